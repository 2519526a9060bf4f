package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ms-gatekeeper/internal/models"
)

// DB wraps the bun handle with the only mutation paths the gatekeeper
// has: ticket creation and the two guarded updates. All single-ticket
// invariants are enforced here, at the row level, never by
// read-modify-write in the service.
type DB struct {
	Bun *bun.DB
}

func (d *DB) GetEventByID(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := d.Bun.NewSelect().
		Model(&event).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (d *DB) GetTicketByNaturalKey(ctx context.Context, eventID, policyID, assetID, stakeKey string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("event_id = ?", eventID).
		Where("policy_id = ?", policyID).
		Where("asset_id = ?", assetID).
		Where("stake_key = ?", stakeKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// FindOrCreateTicket inserts the ticket, relying on the unique natural-key
// index to drop a concurrent duplicate, then reads back whichever row won.
func (d *DB) FindOrCreateTicket(ctx context.Context, ticket models.Ticket) (*models.Ticket, error) {
	_, err := d.Bun.NewInsert().
		Model(&ticket).
		Ignore().
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return d.GetTicketByNaturalKey(ctx, ticket.EventID, ticket.PolicyID, ticket.AssetID, ticket.StakeKey)
}

func (d *DB) GetTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetTicketByAssetAndNonce(ctx context.Context, assetID string, ticketNonce []byte) (*models.Ticket, error) {
	var ticket models.Ticket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("asset_id = ?", assetID).
		Where("ticket_nonce = ?", ticketNonce).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// MintSecurityCode sets signature and ticket_nonce in one conditional
// update guarded on the nonce still being null. Returns false when another
// mint got there first; the caller re-reads the row for the winning code.
func (d *DB) MintSecurityCode(ctx context.Context, ticketID string, signature, ticketNonce []byte) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("signature = ?", signature).
		Set("ticket_nonce = ?", ticketNonce).
		Where("id = ?", ticketID).
		Where("ticket_nonce IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// CheckInTicket flips checked_in exactly once; the guard makes two gates
// scanning the same code a race with one winner.
func (d *DB) CheckInTicket(ctx context.Context, ticketID, gateUserID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("checked_in = ?", true).
		Set("check_in_time = ?", at).
		Set("check_in_user = ?", gateUserID).
		Where("id = ?", ticketID).
		Where("checked_in = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
