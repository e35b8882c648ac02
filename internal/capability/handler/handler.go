// Package handler is the thin HTTP layer over the synchronizer. It delegates
// to the service without embedding business logic so transport concerns
// remain isolated.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"capsync/internal/capability/models"
	"capsync/internal/platform/middleware"
	"capsync/pkg/domain"
	dErrors "capsync/pkg/errors"
)

// Service defines the synchronizer operations the handler exposes.
type Service interface {
	EnsureCapabilities(ctx context.Context, deviceID domain.DeviceID, desired models.Set) error
	Registered(ctx context.Context, deviceID domain.DeviceID) (*models.RegistrationRecord, error)
	Invalidate(ctx context.Context, deviceID domain.DeviceID) error
}

// Handler handles capability synchronization endpoints.
type Handler struct {
	logger         *slog.Logger
	service        Service
	requestTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithRequestTimeout bounds each request; default 30s.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// New creates a capability Handler.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		logger:         logger,
		service:        service,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the capability routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.RequestID)
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Timeout(h.requestTimeout))
		router.Use(middleware.ContentTypeJSON)
		router.Post("/v1/devices/{deviceID}/capabilities/ensure", h.handleEnsure)
		router.Get("/v1/devices/{deviceID}/capabilities", h.handleGet)
		router.Delete("/v1/devices/{deviceID}/capabilities", h.handleInvalidate)
	})
}

type ensureRequest struct {
	Capabilities models.Set `json:"capabilities"`
}

type recordResponse struct {
	DeviceID     string     `json:"device_id"`
	Registered   models.Set `json:"registered"`
	RegisteredAt time.Time  `json:"registered_at"`
}

func (h *Handler) handleEnsure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	deviceID, err := domain.ParseDeviceID(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req ensureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid ensure request",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if err := h.service.EnsureCapabilities(ctx, deviceID, req.Capabilities); err != nil {
		code := dErrors.CodeOf(err)
		if code == dErrors.CodeInternal || code == dErrors.CodeStorage {
			h.logger.ErrorContext(ctx, "ensure capabilities failed",
				"request_id", requestID,
				"device_id", deviceID.String(),
				"error", err.Error(),
			)
		}
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	deviceID, err := domain.ParseDeviceID(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := h.service.Registered(r.Context(), deviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(recordResponse{
		DeviceID:     rec.DeviceID.String(),
		Registered:   rec.Registered,
		RegisteredAt: rec.RegisteredAt,
	})
}

func (h *Handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	deviceID, err := domain.ParseDeviceID(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.service.Invalidate(r.Context(), deviceID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError centralizes domain error translation to HTTP responses so every
// endpoint emits the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	var tagged *dErrors.Error
	if errors.As(err, &tagged) {
		code = tagged.Code
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": string(code),
	})
}
