package resources

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestWithAILimitsConcurrency(t *testing.T) {
	m := NewManager(2, 2, arbor.NewLogger())

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithAI(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int32(2))
}

func TestPermitReleasedOnError(t *testing.T) {
	m := NewManager(1, 1, arbor.NewLogger())

	err := m.WithAI(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("model unavailable")
	})
	require.Error(t, err)

	// Permit must be back: a second call proceeds without blocking
	done := make(chan struct{})
	go func() {
		_ = m.WithAI(context.Background(), func(ctx context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("permit was not released after error")
	}
}

func TestWithAIRespectsContextCancellation(t *testing.T) {
	m := NewManager(1, 1, arbor.NewLogger())

	release := make(chan struct{})
	go func() {
		_ = m.WithAI(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WithAI(ctx, func(ctx context.Context) error { return nil })
	assert.Error(t, err)

	close(release)
}

func TestGetStatusReportsCapacity(t *testing.T) {
	m := NewManager(4, 2, arbor.NewLogger())

	status := m.GetStatus()
	assert.Equal(t, int64(4), status.MaxAICalls)
	assert.Equal(t, int64(2), status.MaxConnections)
	assert.Equal(t, int64(4), status.AICallsAvailable)
	assert.Equal(t, int64(2), status.ConnectionsAvailable)
	assert.Greater(t, status.NumGoroutine, 0)

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.WithDatabase(context.Background(), func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	status = m.GetStatus()
	assert.Equal(t, int64(1), status.ConnectionsAvailable)
	close(release)
}

func TestNegativeLimitsFallBackToDefaults(t *testing.T) {
	m := NewManager(-1, -1, arbor.NewLogger())
	status := m.GetStatus()
	assert.Equal(t, int64(4), status.MaxAICalls)
	assert.Equal(t, int64(2), status.MaxConnections)
}
