package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docpilot/internal/apperr"
)

func TestLockRegistryIsExclusivePerTenant(t *testing.T) {
	locks := NewLockRegistry()

	require.True(t, locks.TryLock("acme"))
	assert.False(t, locks.TryLock("acme"))
	assert.True(t, locks.Held("acme"))
	assert.True(t, locks.TryLock("globex"))

	locks.Unlock("acme")
	assert.False(t, locks.Held("acme"))
	assert.True(t, locks.TryLock("acme"))
}

func TestLockRegistryConcurrentTryLock(t *testing.T) {
	locks := NewLockRegistry()
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.TryLock("acme") {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestSchedulerTriggersEveryTenant(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	trigger := func(ctx context.Context, tenant string) error {
		mu.Lock()
		defer mu.Unlock()
		seen[tenant]++
		if tenant == "busy" {
			return apperr.New(apperr.KindBusy, "busy")
		}
		if tenant == "broken" {
			return errors.New("boom")
		}
		return nil
	}

	s := NewScheduler(trigger, []string{"acme", "busy", "broken"}, time.Hour, 10*time.Millisecond)
	s.Start()
	s.Start()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen["acme"] == 1 && seen["busy"] == 1 && seen["broken"] == 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen["acme"])
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(func(context.Context, string) error { return nil }, nil, time.Minute, time.Minute)
	s.Stop()
}
