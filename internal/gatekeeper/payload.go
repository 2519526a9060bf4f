package gatekeeper

import (
	"encoding/json"
	"fmt"
	"time"

	"ms-gatekeeper/internal/models"
)

const (
	payloadType    = "GateKeeperTicket"
	payloadVersion = "1.0.0"
)

// canonicalPayload is marshalled with encoding/json, which emits fields in
// declaration order. The field order below is the wire key order and must
// not change: the client signs these exact bytes and verification
// reconstructs them independently.
type canonicalPayload struct {
	AssetID   string `json:"assetId"`
	CreatedAt string `json:"createdAt"`
	EventID   string `json:"eventId"`
	EventName string `json:"eventName"`
	PolicyID  string `json:"policyId"`
	SignBy    string `json:"signBy"`
	StakeKey  string `json:"stakeKey"`
	TicketID  string `json:"ticketId"`
	Type      string `json:"type"`
	Version   string `json:"version"`
}

// PayloadBuilder produces the canonical byte sequence a wallet must sign
// to claim a ticket. Output is a pure function of ticket/event state, so
// issuing and verifying always agree on the signed message.
type PayloadBuilder struct {
	// DefaultValidity applies when the event has no window of its own.
	DefaultValidity time.Duration
}

func NewPayloadBuilder(defaultValidity time.Duration) *PayloadBuilder {
	if defaultValidity <= 0 {
		defaultValidity = 900 * time.Second
	}
	return &PayloadBuilder{DefaultValidity: defaultValidity}
}

// Build serializes the challenge for (event, ticket). Timestamps are
// RFC3339 at second precision with offset; signBy is createdAt plus the
// event's validity window, so the payload stays reproducible for the
// lifetime of the ticket.
func (b *PayloadBuilder) Build(event *models.Event, ticket *models.Ticket) ([]byte, error) {
	ticketID, err := ticket.SignatureNonceUUID()
	if err != nil {
		return nil, fmt.Errorf("render signature nonce: %w", err)
	}

	window := event.NonceValidity(b.DefaultValidity)
	createdAt := ticket.CreatedAt.Truncate(time.Second)

	payload := canonicalPayload{
		AssetID:   ticket.AssetID,
		CreatedAt: createdAt.Format(time.RFC3339),
		EventID:   event.ID,
		EventName: event.Name,
		PolicyID:  ticket.PolicyID,
		SignBy:    createdAt.Add(window).Format(time.RFC3339),
		StakeKey:  ticket.StakeKey,
		TicketID:  ticketID,
		Type:      payloadType,
		Version:   payloadVersion,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical payload: %w", err)
	}
	return data, nil
}
