// Package service orchestrates capability synchronization: local reconcile
// first, network registration only when the desired set is not already
// covered, confirmed results persisted through the record store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"capsync/internal/capability/metrics"
	"capsync/internal/capability/models"
	"capsync/internal/capability/reconciler"
	"capsync/internal/capability/retry"
	"capsync/internal/capability/store"
	"capsync/pkg/domain"
	dErrors "capsync/pkg/errors"
	audit "capsync/pkg/platform/audit"
	"capsync/pkg/sentinel"
)

// AuditPublisher is the audit emission seam. *audit.Publisher satisfies it.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the sole entry point consumed by higher-level account code.
type Service struct {
	store     store.RecordStore
	registrar retry.Registrar
	recon     *reconciler.Reconciler
	logger    *slog.Logger
	metrics   *metrics.Metrics
	audit     AuditPublisher
	tracer    trace.Tracer
	clock     func() time.Time

	mu     sync.Mutex
	locks  map[domain.DeviceID]*sync.Mutex
	flight singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches sync outcome metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditPublisher attaches the audit emission pipeline.
func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

// WithReconciler replaces the default reconciler, e.g. to change parameter
// compatibility or record TTL.
func WithReconciler(r *reconciler.Reconciler) Option {
	return func(s *Service) {
		if r != nil {
			s.recon = r
		}
	}
}

// WithClock sets the time source for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates the synchronizer service.
func New(recordStore store.RecordStore, registrar retry.Registrar, opts ...Option) (*Service, error) {
	if recordStore == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "record store is required")
	}
	if registrar == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "registrar is required")
	}

	s := &Service{
		store:     recordStore,
		registrar: registrar,
		recon:     reconciler.New(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("capsync/capability"),
		clock:     time.Now,
		locks:     make(map[domain.DeviceID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureCapabilities reconciles the device's desired capability set against
// the last confirmed registration. When the desired set is already covered
// the call completes locally with zero network activity; otherwise only the
// delta is sent, and the server-confirmed result is persisted.
//
// Calls for one device are serialized; identical concurrent desires collapse
// into a single flight. Timeouts arrive through ctx and cancel both the
// network call and any backoff wait.
func (s *Service) EnsureCapabilities(ctx context.Context, deviceID domain.DeviceID, desired models.Set) error {
	if deviceID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "device id is required")
	}

	key := deviceID.String() + "|" + desired.Fingerprint()
	_, err, shared := s.flight.Do(key, func() (any, error) {
		return nil, s.ensure(ctx, deviceID, desired)
	})
	if shared {
		s.metrics.IncrementSingleflightShared()
	}
	return err
}

func (s *Service) ensure(ctx context.Context, deviceID domain.DeviceID, desired models.Set) error {
	ctx, span := s.tracer.Start(ctx, "capability.ensure",
		trace.WithAttributes(
			attribute.String("device.id", deviceID.String()),
			attribute.Int("capability.desired_count", len(desired)),
		))
	defer span.End()

	// The load/decide/save sequence is the critical section; interleaving
	// two ensure calls for one device could overwrite a newer record with a
	// staler one.
	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	record := s.loadRecord(ctx, deviceID)

	result := s.recon.Reconcile(deviceID, desired, record, s.clock())
	span.SetAttributes(attribute.String("capability.action", result.Action.String()))

	if result.Action == models.NoActionNeeded {
		s.metrics.IncrementEnsureNoop()
		s.logger.DebugContext(ctx, "capabilities already registered",
			"device_id", deviceID.String(),
			"desired_count", len(desired),
		)
		return nil
	}

	confirmed, err := s.registrar.Register(ctx, deviceID, result.Delta)
	if err != nil {
		return s.registrationFailed(ctx, deviceID, result.Delta, err)
	}

	if err := s.store.Save(ctx, confirmed); err != nil {
		// The registration itself succeeded; the local cache is now stale.
		// The next ensure call will over-register, which is safe but
		// wasteful, so the caller still hears about it.
		s.metrics.IncrementStoreWriteFailures()
		s.emitAudit(ctx, audit.Event{
			Category:     audit.CategoryOperations,
			DeviceID:     deviceID.String(),
			Action:       string(audit.EventRegistrationCacheStale),
			Reason:       err.Error(),
			Capabilities: capabilityNames(result.Delta),
		})
		s.logger.ErrorContext(ctx, "failed to persist confirmed registration",
			"device_id", deviceID.String(),
			"error", err.Error(),
		)
		return dErrors.Wrap(err, dErrors.CodeStorage, "persist confirmed registration")
	}

	s.metrics.IncrementRegistrations(len(confirmed.Registered))
	s.emitAudit(ctx, audit.Event{
		Category:     audit.CategorySecurity,
		DeviceID:     deviceID.String(),
		Action:       string(audit.EventCapabilitiesRegistered),
		Capabilities: capabilityNames(result.Delta),
	})
	s.logger.InfoContext(ctx, "capabilities registered",
		"device_id", deviceID.String(),
		"delta_count", len(result.Delta),
		"registered_count", len(confirmed.Registered),
	)
	return nil
}

// Registered returns the last confirmed registration for the device.
func (s *Service) Registered(ctx context.Context, deviceID domain.DeviceID) (*models.RegistrationRecord, error) {
	if deviceID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "device id is required")
	}

	record, err := s.store.Load(ctx, deviceID)
	if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrIdentityMismatch) {
		return nil, dErrors.New(dErrors.CodeNotFound, "no registration record for device")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorage, "load registration record")
	}
	return record, nil
}

// Invalidate discards the local registration record, e.g. after the device
// re-authenticates under a different account. The next ensure call will send
// the full desired set.
func (s *Service) Invalidate(ctx context.Context, deviceID domain.DeviceID) error {
	if deviceID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "device id is required")
	}

	lock := s.deviceLock(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.Delete(ctx, deviceID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorage, "invalidate registration record")
	}

	s.emitAudit(ctx, audit.Event{
		Category: audit.CategorySecurity,
		DeviceID: deviceID.String(),
		Action:   string(audit.EventRegistrationInvalidated),
	})
	return nil
}

// loadRecord reads the stored record, translating every failure mode into
// record-absent. A storage read failure forces a full re-registration rather
// than aborting the operation; the anomaly is logged and counted.
func (s *Service) loadRecord(ctx context.Context, deviceID domain.DeviceID) *models.RegistrationRecord {
	record, err := s.store.Load(ctx, deviceID)
	switch {
	case err == nil:
		return record
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case errors.Is(err, sentinel.ErrIdentityMismatch):
		s.logger.WarnContext(ctx, "stored registration belongs to a different identity, treating as absent",
			"device_id", deviceID.String(),
		)
		return nil
	default:
		s.metrics.IncrementStoreReadFailures()
		s.logger.WarnContext(ctx, "failed to load registration record, forcing full registration",
			"device_id", deviceID.String(),
			"error", err.Error(),
		)
		return nil
	}
}

func (s *Service) registrationFailed(ctx context.Context, deviceID domain.DeviceID, delta models.Set, err error) error {
	code := dErrors.CodeOf(err)
	s.metrics.IncrementRegistrationFailures(string(code))

	switch code {
	case dErrors.CodeRejected:
		s.emitAudit(ctx, audit.Event{
			Category:     audit.CategorySecurity,
			DeviceID:     deviceID.String(),
			Action:       string(audit.EventRegistrationRejected),
			Reason:       err.Error(),
			Capabilities: capabilityNames(delta),
		})
	case dErrors.CodeTransient:
		s.emitAudit(ctx, audit.Event{
			Category:     audit.CategoryOperations,
			DeviceID:     deviceID.String(),
			Action:       string(audit.EventRegistrationRetriesFailed),
			Reason:       err.Error(),
			Capabilities: capabilityNames(delta),
		})
	}

	s.logger.ErrorContext(ctx, "capability registration failed",
		"device_id", deviceID.String(),
		"code", string(code),
		"error", err.Error(),
	)
	return err
}

func (s *Service) deviceLock(deviceID domain.DeviceID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[deviceID] = lock
	}
	return lock
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Emit(ctx, event)
}

func capabilityNames(set models.Set) []string {
	names := make([]string, 0, len(set))
	for id := range set {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}
