// Package retry wraps the registration client with bounded exponential
// backoff. Only transient failures are retried; unauthorized and rejected
// responses surface immediately.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	dErrors "capsync/pkg/errors"
)

// Registrar is the single-attempt registration contract the controller
// wraps. The controller itself satisfies the same interface so callers can
// layer it transparently over the client.
type Registrar interface {
	Register(ctx context.Context, deviceID domain.DeviceID, delta models.Set) (*models.RegistrationRecord, error)
}

// Config bounds the retry loop.
type Config struct {
	// MaxAttempts is the total attempt budget, first call included.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialInterval seeds the exponential backoff. Jitter is applied on
	// top of every wait.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff wait.
	MaxInterval time.Duration
}

// DefaultConfig mirrors the settings used in production deployments.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     4,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Controller retries a Registrar on transient failure.
type Controller struct {
	next   Registrar
	cfg    Config
	logger *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger attaches a logger for retry attempt visibility.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New wraps next with the configured retry policy.
func New(next Registrar, cfg Config, opts ...Option) *Controller {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultConfig().InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultConfig().MaxInterval
	}

	c := &Controller{
		next:   next,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register attempts the registration, sleeping with exponential backoff plus
// jitter between transient failures, up to the attempt budget. Backoff waits
// abort when ctx is cancelled. On exhaustion the last transient error is
// surfaced unchanged; local state is never touched here.
func (c *Controller) Register(ctx context.Context, deviceID domain.DeviceID, delta models.Set) (*models.RegistrationRecord, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.cfg.InitialInterval
	exp.MaxInterval = c.cfg.MaxInterval
	exp.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	policy := backoff.WithContext(
		backoff.WithMaxRetries(exp, uint64(c.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	operation := func() (*models.RegistrationRecord, error) {
		attempt++
		rec, err := c.next.Register(ctx, deviceID, delta)
		if err == nil {
			return rec, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeTransient) {
			return nil, backoff.Permanent(err)
		}
		c.logger.WarnContext(ctx, "transient registration failure",
			"device_id", deviceID.String(),
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"error", err.Error(),
		)
		return nil, err
	}

	return backoff.RetryWithData(operation, policy)
}
