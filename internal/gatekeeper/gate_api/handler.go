package gate_api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-gatekeeper/internal/auth"
	"ms-gatekeeper/internal/gatekeeper"
	"ms-gatekeeper/internal/logger"
)

type Handler struct {
	Service *gatekeeper.Service
	Logger  *logger.Logger
}

func NewHandler(service *gatekeeper.Service, log *logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  log,
	}
}

// RegisterRoutes mounts the three gatekeeper operations.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/gatekeeper", func(r chi.Router) {
		r.Post("/nonce", h.RequestNonce)
		r.Post("/validate", h.ValidateAndMint)
		r.Post("/checkin", h.CheckIn)
	})
}

type nonceRequest struct {
	EventID  string `json:"eventId"`
	PolicyID string `json:"policyId"`
	AssetID  string `json:"assetId"`
	StakeKey string `json:"stakeKey"`
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

// RequestNonce handles POST /gatekeeper/nonce: find-or-create the ticket
// and return the hex challenge the wallet must sign.
func (h *Handler) RequestNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	nonce, err := h.Service.RequestNonce(r.Context(), req.EventID, req.PolicyID, req.AssetID, req.StakeKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, nonceResponse{Nonce: nonce})
}

type validateRequest struct {
	EventID   string `json:"eventId"`
	PolicyID  string `json:"policyId"`
	AssetID   string `json:"assetId"`
	StakeKey  string `json:"stakeKey"`
	Signature string `json:"signature"`
	PublicKey string `json:"publicKey"`
}

type validateResponse struct {
	AssetID      string `json:"assetId"`
	SecurityCode string `json:"securityCode"`
	QRPayload    string `json:"qrPayload"`
	QRLabel      string `json:"qrLabel"`
	QRImage      string `json:"qrImage"` // base64 PNG
}

// ValidateAndMint handles POST /gatekeeper/validate: verify the signature
// over the recomputed challenge and return the (possibly pre-existing)
// security code with its rendered gate pass.
func (h *Handler) ValidateAndMint(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.Service.ValidateAndMint(r.Context(), req.EventID, req.PolicyID, req.AssetID, req.StakeKey, req.Signature, req.PublicKey)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, validateResponse{
		AssetID:      result.AssetID,
		SecurityCode: result.SecurityCode,
		QRPayload:    result.QR.Payload,
		QRLabel:      result.QR.Label,
		QRImage:      base64.StdEncoding.EncodeToString(result.QR.PNG),
	})
}

type checkInRequest struct {
	Code string `json:"code"`
	// GateUser is a fallback identity for terminals without a bearer token.
	GateUser string `json:"gateUser,omitempty"`
}

type checkInResponse struct {
	Success     bool      `json:"success"`
	CheckInTime time.Time `json:"checkInTime"`
}

// CheckIn handles POST /gatekeeper/checkin: consume a scanned gate pass
// exactly once. The gate operator's identity comes from the bearer
// token's sub claim, or the request body when no token is present.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	gateUserID := req.GateUser
	if tokenString, err := auth.ExtractTokenFromRequest(r); err == nil {
		sub, err := auth.ExtractGateUserID(tokenString)
		if err != nil {
			http.Error(w, "Invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}
		gateUserID = sub
	}

	ticket, err := h.Service.CheckIn(r.Context(), req.Code, gateUserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := checkInResponse{Success: true}
	if ticket.CheckInTime != nil {
		resp.CheckInTime = *ticket.CheckInTime
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && h.Logger != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to write response: %v", err))
	}
}

// writeError maps the domain taxonomy onto HTTP statuses. Anything
// unmatched is an internal fault and deliberately opaque to the caller.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gatekeeper.ErrInvalidArgument), errors.Is(err, gatekeeper.ErrMalformedCode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, gatekeeper.ErrEventNotFound), errors.Is(err, gatekeeper.ErrTicketNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, gatekeeper.ErrInvalidSignature):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, gatekeeper.ErrAlreadyCheckedIn):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		if h.Logger != nil {
			h.Logger.Error("API", err.Error())
		}
		http.Error(w, "internal error, retry later", http.StatusInternalServerError)
	}
}
