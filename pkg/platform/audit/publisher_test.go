package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/pkg/platform/audit"
	auditmemory "tradegate/pkg/platform/audit/store/memory"
	auditworker "tradegate/pkg/platform/audit/worker"
)

func TestEmitNeverBlocks(t *testing.T) {
	publisher := audit.NewChannelPublisher(2, nil)
	ctx := context.Background()

	// No worker draining: the buffer fills and further emits drop instead of
	// stalling the caller.
	for i := 0; i < 10; i++ {
		done := make(chan struct{})
		go func() {
			_ = publisher.Emit(ctx, audit.NewEvent(audit.EventRateLimitExceeded, time.Now()))
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Emit blocked")
		}
	}
}

func TestWorkerDrainsIntoStore(t *testing.T) {
	publisher := audit.NewChannelPublisher(16, nil)
	store := auditmemory.NewInMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker := auditworker.NewWorker(store, publisher.Events(), nil)
	go func() { _ = worker.Run(ctx) }()

	event := audit.NewEvent(audit.EventAccountSuspendedRedirect, time.Now())
	event.SubjectID = "subj-1"
	require.NoError(t, publisher.Emit(ctx, event))

	require.Eventually(t, func() bool {
		events, err := store.ListRecent(context.Background(), 10)
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "subj-1", events[0].SubjectID)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestNewEventDerivesCategory(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	event := audit.NewEvent(audit.EventLimiterFailOpen, at)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, at, event.Timestamp)
	assert.Equal(t, audit.CategoryOperations, event.Category)
	assert.Equal(t, string(audit.EventLimiterFailOpen), event.Action)
}
