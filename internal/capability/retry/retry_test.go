package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	dErrors "capsync/pkg/errors"
)

func fastConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

// scriptedRegistrar returns errs in order, then succeeds.
type scriptedRegistrar struct {
	errs  []error
	calls int
}

func (f *scriptedRegistrar) Register(ctx context.Context, deviceID domain.DeviceID, delta models.Set) (*models.RegistrationRecord, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   delta.Clone(),
		RegisteredAt: time.Now().UTC(),
	}, nil
}

func transientErr() error {
	return dErrors.New(dErrors.CodeTransient, "upstream 503")
}

func TestRegister_SucceedsFirstAttempt(t *testing.T) {
	fake := &scriptedRegistrar{}
	c := New(fake, fastConfig(4))

	rec, err := c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Equal(t, 1, fake.calls)
}

func TestRegister_RetriesTransientThenSucceeds(t *testing.T) {
	fake := &scriptedRegistrar{errs: []error{transientErr(), transientErr()}}
	c := New(fake, fastConfig(4))

	rec, err := c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.NoError(t, err)
	assert.NotNil(t, rec)
	assert.Equal(t, 3, fake.calls)
}

func TestRegister_ExhaustsAttemptBudget(t *testing.T) {
	fake := &scriptedRegistrar{
		errs: []error{transientErr(), transientErr(), transientErr(), transientErr(), transientErr()},
	}
	c := New(fake, fastConfig(3))

	_, err := c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient),
		"last transient error surfaces unchanged")
	assert.Equal(t, 3, fake.calls, "attempted no more than the configured maximum")
}

func TestRegister_UnauthorizedNeverRetried(t *testing.T) {
	fake := &scriptedRegistrar{errs: []error{dErrors.New(dErrors.CodeUnauthorized, "token expired")}}
	c := New(fake, fastConfig(5))

	_, err := c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Equal(t, 1, fake.calls)
}

func TestRegister_RejectedNeverRetried(t *testing.T) {
	fake := &scriptedRegistrar{errs: []error{dErrors.New(dErrors.CodeRejected, "capability refused")}}
	c := New(fake, fastConfig(5))

	_, err := c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeRejected))
	assert.Equal(t, 1, fake.calls)
}

func TestRegister_ContextCancelStopsWaiting(t *testing.T) {
	fake := &scriptedRegistrar{
		errs: []error{transientErr(), transientErr(), transientErr(), transientErr()},
	}
	c := New(fake, Config{
		MaxAttempts:     5,
		InitialInterval: time.Hour, // would outlive the test if waits weren't cancellable
		MaxInterval:     time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := c.Register(ctx, domain.NewDeviceID(), models.Set{"push": nil})
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, 1, fake.calls)
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait did not abort on context cancellation")
	}
}

func TestNew_ClampsInvalidConfig(t *testing.T) {
	fake := &scriptedRegistrar{errs: []error{transientErr()}}
	c := New(fake, Config{MaxAttempts: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})

	_, err := c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls, "budget below one clamps to a single attempt")
}
