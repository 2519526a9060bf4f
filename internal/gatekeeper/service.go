package gatekeeper

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-gatekeeper/internal/gatekeeper/qr"
	"ms-gatekeeper/internal/gatekeeper/verifier"
	"ms-gatekeeper/internal/logger"
	"ms-gatekeeper/internal/models"
)

type GateDBLayer interface {
	GetEventByID(ctx context.Context, id string) (*models.Event, error)
	GetTicketByNaturalKey(ctx context.Context, eventID, policyID, assetID, stakeKey string) (*models.Ticket, error)
	FindOrCreateTicket(ctx context.Context, ticket models.Ticket) (*models.Ticket, error)
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByAssetAndNonce(ctx context.Context, assetID string, ticketNonce []byte) (*models.Ticket, error)
	MintSecurityCode(ctx context.Context, ticketID string, signature, ticketNonce []byte) (bool, error)
	CheckInTicket(ctx context.Context, ticketID, gateUserID string, at time.Time) (bool, error)
}

// TicketLocker is a short-lived per-ticket lease. Optional: the store's
// conditional updates alone keep the invariants.
type TicketLocker interface {
	LockTicket(ticketID, ownerID string) (bool, error)
	UnlockTicket(ticketID, ownerID string) error
}

type EventPublisher interface {
	PublishSecurityCodeMinted(topic string, ticket *models.Ticket) error
	PublishTicketCheckedIn(topic string, ticket *models.Ticket) error
}

// Service implements the challenge-response protocol: nonce issuing,
// signature verification with security-code minting, and gate check-in.
type Service struct {
	DB       GateDBLayer
	Verifier verifier.Verifier
	Payload  *PayloadBuilder
	QR       *qr.Codec

	Locker   TicketLocker   // optional
	Producer EventPublisher // optional
	Logger   *logger.Logger // optional

	MintedTopic    string
	CheckedInTopic string
}

func NewService(db GateDBLayer, v verifier.Verifier, payload *PayloadBuilder, codec *qr.Codec) *Service {
	return &Service{
		DB:       db,
		Verifier: v,
		Payload:  payload,
		QR:       codec,
	}
}

// MintResult is the outcome of a successful (or previously completed)
// validation: the asset, its permanent security code, and the rendered
// gate pass.
type MintResult struct {
	AssetID      string
	SecurityCode string
	QR           *qr.Code
}

// RequestNonce finds or creates the ticket for the natural key and returns
// the hex-encoded canonical payload the wallet must sign. Repeated calls
// return identical bytes: the ticket's creation instant and signature
// nonce never change.
func (s *Service) RequestNonce(ctx context.Context, eventID, policyID, assetID, stakeKey string) (string, error) {
	if policyID == "" || assetID == "" || stakeKey == "" {
		return "", fmt.Errorf("%w: policyId, assetId and stakeKey are required", ErrInvalidArgument)
	}
	if _, err := uuid.Parse(eventID); err != nil {
		return "", fmt.Errorf("%w: event id is not a UUID: %v", ErrInvalidArgument, err)
	}

	event, err := s.DB.GetEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return "", fmt.Errorf("lookup event %s: %w", eventID, err)
	}

	nonce := uuid.New()
	candidate := models.Ticket{
		ID:             uuid.New().String(),
		EventID:        event.ID,
		PolicyID:       policyID,
		AssetID:        assetID,
		StakeKey:       stakeKey,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		SignatureNonce: nonce[:],
	}

	ticket, err := s.DB.FindOrCreateTicket(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("find or create ticket: %w", err)
	}

	payload, err := s.Payload.Build(event, ticket)
	if err != nil {
		return "", fmt.Errorf("build payload for ticket %s: %w", ticket.ID, err)
	}

	s.logTicket("NONCE", ticket.ID, fmt.Sprintf("challenge issued for asset %s", assetID))
	return hex.EncodeToString(payload), nil
}

// ValidateAndMint recomputes the canonical payload, verifies the wallet's
// signature over it, and mints the ticket's permanent security code on
// first success. Later calls with any valid signature return the same
// code; a ticket never gets a second one.
func (s *Service) ValidateAndMint(ctx context.Context, eventID, policyID, assetID, stakeKey, signatureHex, publicKeyHex string) (*MintResult, error) {
	signature, err := hex.DecodeString(signatureHex)
	if err != nil || len(signature) == 0 {
		return nil, fmt.Errorf("%w: signature is not valid hex", ErrInvalidArgument)
	}
	publicKey, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(publicKey) == 0 {
		return nil, fmt.Errorf("%w: public key is not valid hex", ErrInvalidArgument)
	}

	event, err := s.DB.GetEventByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return nil, fmt.Errorf("lookup event %s: %w", eventID, err)
	}

	ticket, err := s.DB.GetTicketByNaturalKey(ctx, eventID, policyID, assetID, stakeKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no ticket for asset %s", ErrTicketNotFound, assetID)
		}
		return nil, fmt.Errorf("lookup ticket: %w", err)
	}

	// Recomputation is the source of truth for the signed message; no
	// nonce cache exists to drift from it.
	payload, err := s.Payload.Build(event, ticket)
	if err != nil {
		return nil, fmt.Errorf("build payload for ticket %s: %w", ticket.ID, err)
	}

	ok, err := s.Verifier.Verify(ctx, signature, publicKey, payload, ticket.StakeKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if !ok {
		s.logSecurity("VERIFY_FAILED", fmt.Sprintf("asset %s ticket %s", assetID, ticket.ID))
		return nil, fmt.Errorf("%w: ticket %s", ErrInvalidSignature, ticket.ID)
	}

	if len(ticket.TicketNonce) == 0 {
		ticket, err = s.mintSecurityCode(ctx, ticket, signature)
		if err != nil {
			return nil, err
		}
	}

	securityCode, err := ticket.SecurityCode()
	if err != nil {
		return nil, fmt.Errorf("render security code for ticket %s: %w", ticket.ID, err)
	}

	code, err := s.QR.Encode(ticket.AssetID, securityCode)
	if err != nil {
		return nil, fmt.Errorf("encode gate pass for ticket %s: %w", ticket.ID, err)
	}

	return &MintResult{
		AssetID:      ticket.AssetID,
		SecurityCode: securityCode,
		QR:           code,
	}, nil
}

// mintSecurityCode performs the one-shot conditional mint. Losing the race
// to a concurrent request is fine: the winner's code is read back and
// returned, never a second one.
func (s *Service) mintSecurityCode(ctx context.Context, ticket *models.Ticket, signature []byte) (*models.Ticket, error) {
	owner := uuid.New().String()
	if s.Locker != nil {
		locked, err := s.Locker.LockTicket(ticket.ID, owner)
		if err != nil {
			s.logTicket("LOCK", ticket.ID, fmt.Sprintf("lease unavailable, relying on conditional update: %v", err))
		} else if locked {
			defer s.Locker.UnlockTicket(ticket.ID, owner)
		}
	}

	nonce := uuid.New()
	won, err := s.DB.MintSecurityCode(ctx, ticket.ID, signature, nonce[:])
	if err != nil {
		return nil, fmt.Errorf("mint security code for ticket %s: %w", ticket.ID, err)
	}

	minted, err := s.DB.GetTicketByID(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("reload ticket %s after mint: %w", ticket.ID, err)
	}

	if won {
		s.logTicket("MINT", minted.ID, fmt.Sprintf("security code minted for asset %s", minted.AssetID))
		if s.Producer != nil {
			if err := s.Producer.PublishSecurityCodeMinted(s.MintedTopic, minted); err != nil {
				s.logKafka("PUBLISH_FAILED", s.MintedTopic, err.Error())
			}
		}
	}
	return minted, nil
}

// CheckIn consumes a scanned gate pass exactly once. A second scan of the
// same code fails loud with ErrAlreadyCheckedIn so gate staff see the
// duplicate.
func (s *Service) CheckIn(ctx context.Context, scannedCode, gateUserID string) (*models.Ticket, error) {
	if gateUserID == "" {
		return nil, fmt.Errorf("%w: gate user id is required", ErrInvalidArgument)
	}

	assetID, securityCode, err := s.QR.Decode(scannedCode)
	if err != nil {
		return nil, err
	}

	codeUUID, err := uuid.Parse(securityCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCode, err)
	}

	// A never-minted ticket has no nonce row to match, so forged and
	// premature codes both land here.
	ticket, err := s.DB.GetTicketByAssetAndNonce(ctx, assetID, codeUUID[:])
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no ticket for code %s", ErrTicketNotFound, scannedCode)
		}
		return nil, fmt.Errorf("lookup ticket by code: %w", err)
	}

	owner := uuid.New().String()
	if s.Locker != nil {
		locked, err := s.Locker.LockTicket(ticket.ID, owner)
		if err != nil {
			s.logTicket("LOCK", ticket.ID, fmt.Sprintf("lease unavailable, relying on conditional update: %v", err))
		} else if locked {
			defer s.Locker.UnlockTicket(ticket.ID, owner)
		}
	}

	won, err := s.DB.CheckInTicket(ctx, ticket.ID, gateUserID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("check in ticket %s: %w", ticket.ID, err)
	}
	if !won {
		s.logSecurity("DUPLICATE_SCAN", fmt.Sprintf("asset %s ticket %s by %s", assetID, ticket.ID, gateUserID))
		return nil, fmt.Errorf("%w: ticket %s", ErrAlreadyCheckedIn, ticket.ID)
	}

	checkedIn, err := s.DB.GetTicketByID(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("reload ticket %s after check-in: %w", ticket.ID, err)
	}

	s.logTicket("CHECKIN", checkedIn.ID, fmt.Sprintf("asset %s admitted by %s", assetID, gateUserID))
	if s.Producer != nil {
		if err := s.Producer.PublishTicketCheckedIn(s.CheckedInTopic, checkedIn); err != nil {
			s.logKafka("PUBLISH_FAILED", s.CheckedInTopic, err.Error())
		}
	}

	return checkedIn, nil
}

func (s *Service) logTicket(action, ticketID, message string) {
	if s.Logger != nil {
		s.Logger.LogTicket(action, ticketID, message)
	}
}

func (s *Service) logSecurity(event, message string) {
	if s.Logger != nil {
		s.Logger.LogSecurity(event, message)
	}
}

func (s *Service) logKafka(action, topic, message string) {
	if s.Logger != nil {
		s.Logger.LogKafka(action, topic, message)
	}
}
