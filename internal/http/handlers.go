package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/evandatickets/ticket-validation/internal/config"
	"github.com/evandatickets/ticket-validation/internal/domain"
	"github.com/evandatickets/ticket-validation/internal/idempotency"
	"github.com/evandatickets/ticket-validation/internal/issuance"
	"github.com/evandatickets/ticket-validation/internal/observability"
	"github.com/evandatickets/ticket-validation/internal/redemption"
	"github.com/evandatickets/ticket-validation/internal/scanner"
	"github.com/evandatickets/ticket-validation/internal/token"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Handlers struct {
	cfg      *config.Config
	engine   *redemption.Engine
	issuer   *issuance.Service
	registry *scanner.Registry
	idemp    *idempotency.Idempotency
	pub      issuance.Publisher
	logger   observability.Logger
}

func NewHandlers(cfg *config.Config, engine *redemption.Engine, issuer *issuance.Service, registry *scanner.Registry, idemp *idempotency.Idempotency, pub issuance.Publisher, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		engine:   engine,
		issuer:   issuer,
		registry: registry,
		idemp:    idemp,
		pub:      pub,
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ValidateTicket is the scanning endpoint. The response body is rendered
// directly to the door operator, so rejection reasons are specific; only
// internal failures are collapsed to a generic message.
func (h *Handlers) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRData    string `json:"qr_data"`
		ScannerID string `json:"scanner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"valid": false, "reason": "Request must be JSON"})
		return
	}
	if req.QRData == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"valid": false, "reason": "Missing QR data"})
		return
	}
	if req.ScannerID == "" {
		// An unknown scanner always fails authorization, so this default
		// never grants access.
		req.ScannerID = "unknown"
	}

	result, err := h.engine.Redeem(r.Context(), req.QRData, req.ScannerID)

	var malformed *domain.MalformedTokenError
	var violation *domain.ViolationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":      true,
			"status":     domain.EventStatusOngoing,
			"event":      result.EventName,
			"user":       result.HolderName,
			"event_id":   result.EventID,
			"scanned_at": result.ScannedAt.Format(time.RFC3339),
			"scanner_id": result.Scanner,
		})
	case errors.Is(err, domain.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"valid": false, "reason": "Unauthorized scanner"})
	case errors.As(err, &malformed):
		body := map[string]interface{}{"valid": false, "reason": malformed.Error()}
		if len(malformed.Reasons) == 1 && malformed.Reasons[0] == "Invalid QR format" {
			body["hint"] = token.Hint
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"valid": false, "reason": "Ticket not found"})
	case errors.As(err, &violation):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"valid":    false,
			"reason":   violation.Error(),
			"status":   violation.EventStatus,
			"event_id": violation.EventID,
		})
	case errors.Is(err, domain.ErrSerializationFailure):
		writeJSON(w, http.StatusConflict, map[string]interface{}{"valid": false, "reason": "Conflict, try again"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"valid": false, "reason": "Internal server error"})
	}
}

// IssueTickets creates or refreshes validation records for every paid,
// active item of the order and hands the tokens to the renderer pipeline.
func (h *Handlers) IssueTickets(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	result, err := h.issuer.IssueOrder(r.Context(), orderID)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "no valid paid tickets", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("issuance failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	data, _ := json.Marshal(result)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

// RegisterScanner is the administrative surface that creates scanning
// identities. The generated auth token is returned once; delivering it to
// the device (QR, email) is an external concern.
func (h *Handlers) RegisterScanner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Location string `json:"location"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.registry.Register(r.Context(), req.Username, req.Location, req.Role)
	if errors.Is(err, domain.ErrInvalidInput) {
		http.Error(w, "missing username, location, or role", http.StatusBadRequest)
		return
	}
	if errors.Is(err, domain.ErrConflict) {
		http.Error(w, "scanner with this username already exists", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if h.pub != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"username": s.Username,
			"location": s.Location,
			"role":     s.Role,
		})
		msg := amqp.Publishing{
			MessageId:   uuid.NewString(),
			ContentType: "application/json",
			Body:        payload,
		}
		if err := h.pub.Publish(r.Context(), "scanner.registered", msg); err != nil {
			h.logger.WithError(err).Warn("failed to publish scanner.registered")
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"username":   s.Username,
		"auth_token": s.AuthToken,
		"location":   s.Location,
		"role":       s.Role,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
