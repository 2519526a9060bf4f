package gatekeeper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"ms-gatekeeper/internal/models"
)

func testEventAndTicket(windowSeconds int) (*models.Event, *models.Ticket) {
	nonce := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	event := &models.Event{
		ID:                "6f1c23cd-11b2-4c1a-9f4e-2e2b8f1a9d01",
		Name:              "GateKeeper Fest",
		NonceValidSeconds: windowSeconds,
	}
	ticket := &models.Ticket{
		ID:             uuid.New().String(),
		EventID:        event.ID,
		PolicyID:       "p1",
		AssetID:        "a1",
		StakeKey:       "s1",
		CreatedAt:      time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
		SignatureNonce: nonce[:],
	}
	return event, ticket
}

func TestBuildIsDeterministic(t *testing.T) {
	builder := NewPayloadBuilder(900 * time.Second)
	event, ticket := testEventAndTicket(900)

	first, err := builder.Build(event, ticket)
	assert.NoError(t, err)
	second, err := builder.Build(event, ticket)
	assert.NoError(t, err)

	assert.Equal(t, first, second, "same inputs must yield byte-identical payloads")
}

func TestBuildKeyOrderAndContent(t *testing.T) {
	builder := NewPayloadBuilder(900 * time.Second)
	event, ticket := testEventAndTicket(900)

	payload, err := builder.Build(event, ticket)
	assert.NoError(t, err)

	expected := `{"assetId":"a1","createdAt":"2026-03-14T15:09:26Z","eventId":"6f1c23cd-11b2-4c1a-9f4e-2e2b8f1a9d01","eventName":"GateKeeper Fest","policyId":"p1","signBy":"2026-03-14T15:24:26Z","stakeKey":"s1","ticketId":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","type":"GateKeeperTicket","version":"1.0.0"}`
	assert.Equal(t, expected, string(payload))
}

func TestBuildSignByUsesEventWindow(t *testing.T) {
	builder := NewPayloadBuilder(900 * time.Second)
	event, ticket := testEventAndTicket(60)

	payload, err := builder.Build(event, ticket)
	assert.NoError(t, err)

	var decoded map[string]string
	assert.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "2026-03-14T15:10:26Z", decoded["signBy"])
}

func TestBuildFallsBackToDefaultWindow(t *testing.T) {
	builder := NewPayloadBuilder(0)
	event, ticket := testEventAndTicket(0)

	payload, err := builder.Build(event, ticket)
	assert.NoError(t, err)

	var decoded map[string]string
	assert.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "2026-03-14T15:24:26Z", decoded["signBy"], "zero windows fall back to 900s")
}

func TestBuildRejectsBadSignatureNonce(t *testing.T) {
	builder := NewPayloadBuilder(900 * time.Second)
	event, ticket := testEventAndTicket(900)
	ticket.SignatureNonce = []byte{0x01, 0x02}

	_, err := builder.Build(event, ticket)
	assert.Error(t, err)
}
