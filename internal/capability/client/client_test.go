package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	dErrors "capsync/pkg/errors"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

type failingTokens struct{}

func (failingTokens) Token(ctx context.Context) (string, error) {
	return "", errors.New("no session")
}

func TestNew_Validation(t *testing.T) {
	_, err := New("", staticTokens("t"))
	assert.Error(t, err)

	_, err = New("https://accounts.example.com", nil)
	assert.Error(t, err)
}

func TestRegister_Success(t *testing.T) {
	deviceID := domain.NewDeviceID()
	registeredAt := time.Now().UTC().Truncate(time.Second)
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/devices/"+deviceID.String()+"/capabilities", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req struct {
			DeviceID     string     `json:"device_id"`
			Capabilities models.Set `json:"capabilities"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, deviceID.String(), req.DeviceID)
		assert.Contains(t, req.Capabilities, "sync")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"registered": models.Set{
				"push": {"version": "v1"},
				"sync": {"version": "v2"},
			},
			"registered_at": registeredAt,
		})
	}))
	defer srv.Close()

	c, err := New(srv.URL, staticTokens("test-token"))
	require.NoError(t, err)

	rec, err := c.Register(context.Background(), deviceID, models.Set{"sync": {"version": "v2"}})
	require.NoError(t, err)

	assert.Equal(t, deviceID, rec.DeviceID)
	assert.Len(t, rec.Registered, 2, "server returns the full confirmed set")
	assert.True(t, registeredAt.Equal(rec.RegisteredAt))
	assert.Equal(t, int32(1), calls.Load(), "exactly one request per invocation")
}

func TestRegister_ErrorClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		wantCode dErrors.Code
	}{
		{"401 is unauthorized", http.StatusUnauthorized, dErrors.CodeUnauthorized},
		{"403 is rejected", http.StatusForbidden, dErrors.CodeRejected},
		{"422 is rejected", http.StatusUnprocessableEntity, dErrors.CodeRejected},
		{"408 is transient", http.StatusRequestTimeout, dErrors.CodeTransient},
		{"429 is transient", http.StatusTooManyRequests, dErrors.CodeTransient},
		{"500 is transient", http.StatusInternalServerError, dErrors.CodeTransient},
		{"503 is transient", http.StatusServiceUnavailable, dErrors.CodeTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":  "registration_failed",
					"reason": "server said no",
				})
			}))
			defer srv.Close()

			c, err := New(srv.URL, staticTokens("t"))
			require.NoError(t, err)

			_, err = c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tc.wantCode), "got %v", err)
			assert.Contains(t, err.Error(), "server said no")
		})
	}
}

func TestRegister_TransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c, err := New(srv.URL, staticTokens("t"))
	require.NoError(t, err)

	_, err = c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
}

func TestRegister_ContextCancellationIsTransient(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c, err := New(srv.URL, staticTokens("t"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = c.Register(ctx, domain.NewDeviceID(), models.Set{"push": nil})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTransient))
}

func TestRegister_TokenFailureIsUnauthorized(t *testing.T) {
	c, err := New("https://accounts.example.com", failingTokens{})
	require.NoError(t, err)

	_, err = c.Register(context.Background(), domain.NewDeviceID(), models.Set{"push": nil})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
