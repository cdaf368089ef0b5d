package localwatch

import (
	"context"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFsWatcher implements FsWatcher with injectable channels, grounded on
// tonimelisma-onedrive-go's observer_local_handlers_test.go mock.
type mockFsWatcher struct {
	events   chan fsnotify.Event
	errs     chan error
	closeOne stdsync.Once
}

func newMockFsWatcher() *mockFsWatcher {
	return &mockFsWatcher{
		events: make(chan fsnotify.Event, 10),
		errs:   make(chan error, 10),
	}
}

func (m *mockFsWatcher) Add(string) error              { return nil }
func (m *mockFsWatcher) Remove(string) error           { return nil }
func (m *mockFsWatcher) Events() <-chan fsnotify.Event { return m.events }
func (m *mockFsWatcher) Errors() <-chan error          { return m.errs }
func (m *mockFsWatcher) Close() error {
	m.closeOne.Do(func() { close(m.events); close(m.errs) })
	return nil
}

func newTestWatcher(t *testing.T, mock *mockFsWatcher, cfg Config) (*Watcher, *int32) {
	t.Helper()
	var calls int32
	w := New("acct-1", t.TempDir(), func(context.Context) {
		atomic.AddInt32(&calls, 1)
	}, cfg)
	w.newWatcher = func() (FsWatcher, error) { return mock, nil }
	return w, &calls
}

func TestTriggerFiresAfterDebounceQuiesces(t *testing.T) {
	mock := newMockFsWatcher()
	w, calls := newTestWatcher(t, mock, Config{Debounce: 20 * time.Millisecond, SafetyPeriod: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	mock.events <- fsnotify.Event{Name: "/tmp/x.txt", Op: fsnotify.Write}

	require.Eventually(t, func() bool { return atomic.LoadInt32(calls) >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestTriggerDebounceCoalescesBurstsIntoOneCall(t *testing.T) {
	mock := newMockFsWatcher()
	w, calls := newTestWatcher(t, mock, Config{Debounce: 40 * time.Millisecond, SafetyPeriod: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 5; i++ {
		mock.events <- fsnotify.Event{Name: "/tmp/x.txt", Op: fsnotify.Write}
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(calls) >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	cancel()
	<-done
}

func TestChmodOnlyEventIsIgnored(t *testing.T) {
	mock := newMockFsWatcher()
	w, calls := newTestWatcher(t, mock, Config{Debounce: 15 * time.Millisecond, SafetyPeriod: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	mock.events <- fsnotify.Event{Name: "/tmp/x.txt", Op: fsnotify.Chmod}
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))

	cancel()
	<-done
}

func TestSafetyTickerFiresTriggerRegardlessOfActivity(t *testing.T) {
	mock := newMockFsWatcher()
	w, calls := newTestWatcher(t, mock, Config{Debounce: time.Hour, SafetyPeriod: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(calls) >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	mock := newMockFsWatcher()
	w, _ := newTestWatcher(t, mock, Config{Debounce: time.Hour, SafetyPeriod: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.Run(ctx)
	assert.NoError(t, err)
}
