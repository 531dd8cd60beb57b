package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger records messages for assertion.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) record(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) Debug(msg string, kv ...any) { l.record("DEBUG", msg, kv) }
func (l *testLogger) Info(msg string, kv ...any)  { l.record("INFO", msg, kv) }
func (l *testLogger) Error(msg string, kv ...any) { l.record("ERROR", msg, kv) }

func (l *testLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func (l *testLogger) hasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.messages {
		if strings.HasPrefix(m, level) {
			return true
		}
	}
	return false
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}
	d, err := New(logger)
	require.NoError(t, err)
	return d, logger
}

func TestDispatchSyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register("telemetry", func(e Event) (any, error) {
		got = e
		return "applied", nil
	})

	result, err := d.Dispatch(Event{
		Command: "telemetry",
		Payload: json.RawMessage(`{"speed":25}`),
		Source:  "sub-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "applied", result)
	assert.Equal(t, "sub-1", got.Source)
	assert.JSONEq(t, `{"speed":25}`, string(got.Payload))
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	_, err := d.Dispatch(Event{Command: "warp_drive"})
	assert.Error(t, err)
}

func TestBufferedHandlerProcessesAsync(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	d.Register("telemetry", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: "telemetry"})
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}

	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestBufferedHandlerDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	defer close(block)
	d.Register("telemetry", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(2))

	// One in flight plus two queued fills the pipeline.
	d.Dispatch(Event{Command: "telemetry"})
	d.Dispatch(Event{Command: "telemetry"})
	d.Dispatch(Event{Command: "telemetry"})

	_, err := d.Dispatch(Event{Command: "telemetry"})
	assert.Error(t, err)
}

func TestBufferedBlockingWaitsInsteadOfDropping(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register("stats_request", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Command: "stats_request"})
	d.Dispatch(Event{Command: "stats_request"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: "stats_request"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch should have blocked on the full queue")
	case <-time.After(50 * time.Millisecond):
	}
	close(block)
}

func TestLoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("nearby_request", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	_, err := d.Dispatch(Event{Command: "nearby_request", Source: "sub-1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, logger.count(), 2, "expected start and complete log lines")
}

func TestLoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register("telemetry", func(e Event) (any, error) {
		return nil, fmt.Errorf("vehicle not controlled")
	}, Logged())

	d.Dispatch(Event{Command: "telemetry"})
	assert.True(t, logger.hasLevel("ERROR"))
}

func TestHasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	d.Register("telemetry", func(e Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler("telemetry"))
	assert.False(t, d.HasHandler("stats_request"))
}

func TestBufferedAndLoggedCombined(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var wg sync.WaitGroup
	wg.Add(1)
	d.Register("telemetry", func(e Event) (any, error) {
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Command: "telemetry"})
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	wg.Wait()
	assert.GreaterOrEqual(t, logger.count(), 2)
}
