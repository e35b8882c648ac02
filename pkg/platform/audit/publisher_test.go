package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "capsync/pkg/platform/audit"
	"capsync/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher([]audit.Sink{store})
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Category: audit.CategorySecurity,
		DeviceID: "device-1",
		Action:   string(audit.EventCapabilitiesRegistered),
	})
	require.NoError(t, err)

	events, err := store.ListByDevice(context.Background(), "device-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventCapabilitiesRegistered), events[0].Action)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher([]audit.Sink{store}, audit.WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		DeviceID: "device-2",
		Action:   string(audit.EventRegistrationInvalidated),
	})
	require.NoError(t, err)

	// Wait for async processing
	assert.Eventually(t, func() bool {
		events, _ := store.ListByDevice(context.Background(), "device-2")
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher([]audit.Sink{store}, audit.WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			DeviceID: "device-3",
			Action:   string(audit.EventCapabilitiesRegistered),
		})
		require.NoError(t, err)
	}

	// Close should drain all buffered events.
	pub.Close()

	events, err := store.ListByDevice(context.Background(), "device-3")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFullDropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := audit.NewPublisher([]audit.Sink{store}, audit.WithAsyncBuffer(1))
	defer pub.Close()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), audit.Event{
				DeviceID: "device-4",
				Action:   string(audit.EventCapabilitiesRegistered),
			})
		}()
	}
	wg.Wait()
	// Dropping must not panic or wedge the publisher; exact surviving count
	// depends on scheduling.
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	pub := audit.NewPublisher([]audit.Sink{store},
		audit.WithPublisherClock(func() time.Time { return fixed }))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		DeviceID: "device-5",
		Action:   string(audit.EventCapabilitiesRegistered),
	}))

	events := store.All()
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestPublisher_CloseIsIdempotent(t *testing.T) {
	pub := audit.NewPublisher(nil, audit.WithAsyncBuffer(1))
	pub.Close()
	pub.Close()
}
