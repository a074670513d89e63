package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOverlappingRunIsSkipped(t *testing.T) {
	var skipped []string
	var mu sync.Mutex
	s := NewScheduler(zap.NewNop(), func(name string) {
		mu.Lock()
		skipped = append(skipped, name)
		mu.Unlock()
	})

	started := make(chan struct{})
	release := make(chan struct{})
	runs := 0
	require.NoError(t, s.Register("reminder", "@every 1h", func(context.Context) {
		runs++
		close(started)
		<-release
	}))

	done := make(chan bool)
	go func() { done <- s.Trigger("reminder") }()
	<-started

	assert.False(t, s.Trigger("reminder"), "second run overlaps the first")
	close(release)
	assert.True(t, <-done)
	assert.Equal(t, 1, runs)

	mu.Lock()
	assert.Equal(t, []string{"reminder"}, skipped)
	mu.Unlock()
}

func TestRegisterValidates(t *testing.T) {
	s := NewScheduler(nil, nil)
	assert.Error(t, s.Register("a", "", func(context.Context) {}))
	assert.Error(t, s.Register("b", "every minute", func(context.Context) {}))
	require.NoError(t, s.Register("c", "* * * * *", func(context.Context) {}))
	assert.Error(t, s.Register("c", "* * * * *", func(context.Context) {}))
	assert.False(t, s.Trigger("missing"))
}

func TestPanicDoesNotKillScheduler(t *testing.T) {
	s := NewScheduler(zap.NewNop(), nil)
	calls := 0
	require.NoError(t, s.Register("boom", "@every 1h", func(context.Context) {
		calls++
		panic("kaboom")
	}))
	assert.True(t, s.Trigger("boom"))
	assert.True(t, s.Trigger("boom"))
	assert.Equal(t, 2, calls)

	s.Start()
	select {
	case <-s.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
}
