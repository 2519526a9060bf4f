package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Ticket binds an on-chain asset (policy/asset pair controlled by a stake
// key) to a single event admission. The natural key is
// (event_id, policy_id, asset_id, stake_key); a unique index enforces at
// most one row per key.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID       string `bun:"id,pk"`
	EventID  string `bun:"event_id,notnull,unique:tickets_natural_key"`
	PolicyID string `bun:"policy_id,notnull,unique:tickets_natural_key"`
	AssetID  string `bun:"asset_id,notnull,unique:tickets_natural_key"`
	StakeKey string `bun:"stake_key,notnull,unique:tickets_natural_key"`

	CreatedAt time.Time `bun:"created_at,notnull"`

	// SignatureNonce is 16 random bytes minted at creation. It salts the
	// canonical payload and never changes.
	SignatureNonce []byte `bun:"signature_nonce,notnull"`

	// Signature and TicketNonce are set together, once, on the first
	// successful verification. TicketNonce is the permanent security code.
	Signature   []byte `bun:"signature,nullzero"`
	TicketNonce []byte `bun:"ticket_nonce,nullzero"`

	CheckedIn   bool       `bun:"checked_in,notnull,default:false"`
	CheckInTime *time.Time `bun:"check_in_time,nullzero"`
	CheckInUser string     `bun:"check_in_user,nullzero"`
}

// SignatureNonceUUID renders the signature nonce as a UUID string, the
// form in which it appears as ticketId in the signed payload.
func (t *Ticket) SignatureNonceUUID() (string, error) {
	id, err := uuid.FromBytes(t.SignatureNonce)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// SecurityCode renders the ticket nonce as a UUID string. Empty until the
// code has been minted.
func (t *Ticket) SecurityCode() (string, error) {
	if len(t.TicketNonce) == 0 {
		return "", nil
	}
	id, err := uuid.FromBytes(t.TicketNonce)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
