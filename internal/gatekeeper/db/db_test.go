package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-gatekeeper/internal/gatekeeper/db"
	"ms-gatekeeper/internal/models"
)

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	if err := bunDB.ResetModel(ctx, (*models.Event)(nil)); err != nil {
		t.Fatalf("Failed to create events table: %v", err)
	}
	if err := bunDB.ResetModel(ctx, (*models.Ticket)(nil)); err != nil {
		t.Fatalf("Failed to create tickets table: %v", err)
	}

	t.Cleanup(func() { bunDB.Close() })
	return &db.DB{Bun: bunDB}
}

func seedEvent(t *testing.T, store *db.DB) *models.Event {
	t.Helper()
	event := &models.Event{
		ID:                uuid.New().String(),
		Name:              "GateKeeper Fest",
		NonceValidSeconds: 900,
		CreatedAt:         time.Now().UTC(),
	}
	_, err := store.Bun.NewInsert().Model(event).Exec(context.Background())
	assert.NoError(t, err)
	return event
}

func newTicket(eventID string) models.Ticket {
	nonce := uuid.New()
	return models.Ticket{
		ID:             uuid.New().String(),
		EventID:        eventID,
		PolicyID:       "p1",
		AssetID:        "a1",
		StakeKey:       "s1",
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		SignatureNonce: nonce[:],
	}
}

func TestGetEventByID(t *testing.T) {
	store := setupTestDB(t)
	event := seedEvent(t, store)

	got, err := store.GetEventByID(context.Background(), event.ID)
	assert.NoError(t, err)
	assert.Equal(t, event.Name, got.Name)

	_, err = store.GetEventByID(context.Background(), uuid.New().String())
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestFindOrCreateTicketIsIdempotent(t *testing.T) {
	store := setupTestDB(t)
	event := seedEvent(t, store)
	ctx := context.Background()

	first, err := store.FindOrCreateTicket(ctx, newTicket(event.ID))
	assert.NoError(t, err)

	// A second create for the same natural key must return the first row
	// untouched, fresh nonce and all.
	second, err := store.FindOrCreateTicket(ctx, newTicket(event.ID))
	assert.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.SignatureNonce, second.SignatureNonce)
	assert.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
}

func TestMintSecurityCodeIsOneShot(t *testing.T) {
	store := setupTestDB(t)
	event := seedEvent(t, store)
	ctx := context.Background()

	ticket, err := store.FindOrCreateTicket(ctx, newTicket(event.ID))
	assert.NoError(t, err)

	firstNonce := uuid.New()
	won, err := store.MintSecurityCode(ctx, ticket.ID, []byte("sig-1"), firstNonce[:])
	assert.NoError(t, err)
	assert.True(t, won)

	secondNonce := uuid.New()
	won, err = store.MintSecurityCode(ctx, ticket.ID, []byte("sig-2"), secondNonce[:])
	assert.NoError(t, err)
	assert.False(t, won, "second mint must lose against the guard")

	reloaded, err := store.GetTicketByID(ctx, ticket.ID)
	assert.NoError(t, err)
	assert.Equal(t, []byte("sig-1"), reloaded.Signature)
	assert.Equal(t, firstNonce[:], reloaded.TicketNonce)
}

func TestGetTicketByAssetAndNonce(t *testing.T) {
	store := setupTestDB(t)
	event := seedEvent(t, store)
	ctx := context.Background()

	ticket, err := store.FindOrCreateTicket(ctx, newTicket(event.ID))
	assert.NoError(t, err)

	nonce := uuid.New()

	// Unminted tickets have no nonce to match.
	_, err = store.GetTicketByAssetAndNonce(ctx, ticket.AssetID, nonce[:])
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	won, err := store.MintSecurityCode(ctx, ticket.ID, []byte("sig"), nonce[:])
	assert.NoError(t, err)
	assert.True(t, won)

	found, err := store.GetTicketByAssetAndNonce(ctx, ticket.AssetID, nonce[:])
	assert.NoError(t, err)
	assert.Equal(t, ticket.ID, found.ID)
}

func TestCheckInTicketIsOneShot(t *testing.T) {
	store := setupTestDB(t)
	event := seedEvent(t, store)
	ctx := context.Background()

	ticket, err := store.FindOrCreateTicket(ctx, newTicket(event.ID))
	assert.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	won, err := store.CheckInTicket(ctx, ticket.ID, "gate-user-1", now)
	assert.NoError(t, err)
	assert.True(t, won)

	won, err = store.CheckInTicket(ctx, ticket.ID, "gate-user-2", now.Add(time.Minute))
	assert.NoError(t, err)
	assert.False(t, won, "second check-in must lose against the guard")

	reloaded, err := store.GetTicketByID(ctx, ticket.ID)
	assert.NoError(t, err)
	assert.True(t, reloaded.CheckedIn)
	assert.Equal(t, "gate-user-1", reloaded.CheckInUser)
	if assert.NotNil(t, reloaded.CheckInTime) {
		assert.Equal(t, now.Unix(), reloaded.CheckInTime.Unix())
	}
}
