package autocomplete

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasilak/datadog-datasource/pkg/querylang"
)

// fakeClock drives the controller's timers manually.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward and fires due timers in order. Timer
// callbacks run without the clock lock held, so they may schedule new
// timers.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(c.now) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		if due == nil {
			c.mu.Unlock()
			return
		}
		due.fired = true
		f := due.f
		c.mu.Unlock()
		f()
	}
}

// fakeVocabulary serves canned vocabularies. When gate is non-nil every
// call blocks on it before returning, letting tests hold fetches in
// flight. metricSets is consumed one entry per call (last entry repeats)
// so successive fetches can be told apart.
type fakeVocabulary struct {
	mu            sync.Mutex
	metricSets    [][]string
	tagKeys       []string
	tagValues     []string
	metricsErr    error
	tagKeysErr    error
	tagValuesErr  error
	gate          chan struct{}
	metricCalls   int
	tagKeyCalls   int
	tagValueCalls int
}

func (f *fakeVocabulary) MetricNames(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	f.metricCalls++
	call := f.metricCalls
	err := f.metricsErr
	sets := f.metricSets
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		return nil, nil
	}
	idx := call - 1
	if idx >= len(sets) {
		idx = len(sets) - 1
	}
	return sets[idx], nil
}

func (f *fakeVocabulary) TagKeys(ctx context.Context, metric string) ([]string, error) {
	f.mu.Lock()
	f.tagKeyCalls++
	keys, err, gate := f.tagKeys, f.tagKeysErr, f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return keys, err
}

func (f *fakeVocabulary) TagValues(ctx context.Context, metric, key string) ([]string, error) {
	f.mu.Lock()
	f.tagValueCalls++
	values, err, gate := f.tagValues, f.tagValuesErr, f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return values, err
}

func (f *fakeVocabulary) calls() (metrics, tagKeys, tagValues int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metricCalls, f.tagKeyCalls, f.tagValueCalls
}

func TestController_DebounceCoalescesKeystrokes(t *testing.T) {
	vocab := &fakeVocabulary{metricSets: [][]string{{"system.cpu.user", "system.cpu.idle"}}}
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: vocab, Clock: clock})
	defer c.Close()

	// three rapid keystrokes, each inside the quiet period
	c.OnInput("avg:s", 5)
	clock.Advance(100 * time.Millisecond)
	c.OnInput("avg:sy", 6)
	clock.Advance(100 * time.Millisecond)
	c.OnInput("avg:sys", 7)

	metrics, _, _ := vocab.calls()
	assert.Zero(t, metrics, "no fetch before the quiet period elapses")

	clock.Advance(DefaultDebounce)
	assert.Eventually(t, func() bool {
		return c.Snapshot().IsOpen
	}, time.Second, time.Millisecond)

	metrics, _, _ = vocab.calls()
	assert.Equal(t, 1, metrics, "burst of keystrokes coalesces into one fetch")

	snap := c.Snapshot()
	require.Len(t, snap.Suggestions, 2)
	assert.Equal(t, "system.cpu.user", snap.Suggestions[0].Label)
}

func TestController_StaleFetchDiscarded(t *testing.T) {
	gate := make(chan struct{})
	vocab := &fakeVocabulary{
		metricSets: [][]string{{"old.metric"}, {"new.metric"}},
		gate:       gate,
	}
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: vocab, Clock: clock})
	defer c.Close()

	c.OnInput("avg:old", 7)
	clock.Advance(DefaultDebounce)
	assert.Eventually(t, func() bool {
		m, _, _ := vocab.calls()
		return m == 1
	}, time.Second, time.Millisecond, "first fetch in flight")

	// newer input before the first fetch resolves
	c.OnInput("avg:new", 7)
	gate <- struct{}{} // first fetch resolves late, must be discarded

	clock.Advance(DefaultDebounce)
	assert.Eventually(t, func() bool {
		m, _, _ := vocab.calls()
		return m == 2
	}, time.Second, time.Millisecond)
	gate <- struct{}{}

	assert.Eventually(t, func() bool {
		snap := c.Snapshot()
		return len(snap.Suggestions) == 1 && snap.Suggestions[0].Label == "new.metric"
	}, time.Second, time.Millisecond, "only the latest fetch's results are applied")

	snap := c.Snapshot()
	for _, item := range snap.Suggestions {
		assert.NotEqual(t, "old.metric", item.Label)
	}
}

func TestController_SelectionStaysInBounds(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: &fakeVocabulary{}, Clock: clock})
	defer c.Close()

	// aggregation suggestions are static, no fetch involved
	c.OnInput("", 0)
	clock.Advance(DefaultDebounce)

	snap := c.Snapshot()
	require.True(t, snap.IsOpen)
	n := len(snap.Suggestions)
	require.Equal(t, len(querylang.Aggregators), n)

	for i := 0; i < 3*n; i++ {
		c.MoveDown()
		idx := c.Snapshot().SelectedIndex
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, n)
	}
	// full cycle lands back on the first item
	assert.Equal(t, 0, c.Snapshot().SelectedIndex)

	c.MoveUp()
	assert.Equal(t, n-1, c.Snapshot().SelectedIndex, "moving up from the top wraps to the bottom")
}

func TestController_CommitEmitsSelectionAndCloses(t *testing.T) {
	var selected []querylang.Completion
	clock := newFakeClock()
	c := NewController(Options{
		Vocabulary: &fakeVocabulary{},
		Clock:      clock,
		OnSelect:   func(item querylang.Completion) { selected = append(selected, item) },
	})
	defer c.Close()

	c.OnInput("", 0)
	clock.Advance(DefaultDebounce)
	require.True(t, c.Snapshot().IsOpen)

	c.MoveDown()
	item, ok := c.Commit()
	require.True(t, ok)
	assert.Equal(t, "sum", item.Label)
	assert.Equal(t, "sum", item.InsertText)

	require.Len(t, selected, 1)
	assert.Equal(t, item, selected[0])

	snap := c.Snapshot()
	assert.False(t, snap.IsOpen)
	assert.Empty(t, snap.Suggestions)

	_, ok = c.Commit()
	assert.False(t, ok, "commit on a closed menu is a no-op")
}

func TestController_HoverAndClick(t *testing.T) {
	var selected []querylang.Completion
	clock := newFakeClock()
	c := NewController(Options{
		Vocabulary: &fakeVocabulary{},
		Clock:      clock,
		OnSelect:   func(item querylang.Completion) { selected = append(selected, item) },
	})
	defer c.Close()

	c.OnInput("", 0)
	clock.Advance(DefaultDebounce)

	c.Hover(2)
	snap := c.Snapshot()
	assert.Equal(t, 2, snap.HoveredIndex)
	assert.Equal(t, 2, snap.SelectedIndex, "hover takes over the keyboard selection")

	c.Hover(99)
	assert.Equal(t, 2, c.Snapshot().HoveredIndex, "out-of-range hover ignored")

	item, ok := c.Click(3)
	require.True(t, ok)
	assert.Equal(t, "max", item.Label)
	require.Len(t, selected, 1)
	assert.False(t, c.Snapshot().IsOpen)
}

func TestController_FetchTimeoutShowsError(t *testing.T) {
	gate := make(chan struct{})
	vocab := &fakeVocabulary{
		metricSets: [][]string{{"late.metric"}},
		gate:       gate,
	}
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: vocab, Clock: clock})
	defer c.Close()

	c.OnInput("avg:late", 8)
	clock.Advance(DefaultDebounce)
	assert.Eventually(t, func() bool {
		m, _, _ := vocab.calls()
		return m == 1
	}, time.Second, time.Millisecond)
	assert.True(t, c.Snapshot().IsLoading)

	clock.Advance(DefaultFetchTimeout)
	snap := c.Snapshot()
	assert.False(t, snap.IsLoading)
	assert.True(t, snap.IsOpen, "menu stays open to show the error")
	assert.Contains(t, snap.Error, "timed out")

	// the fetch resolving after its timeout must not resurrect results
	gate <- struct{}{}
	time.Sleep(20 * time.Millisecond)
	snap = c.Snapshot()
	assert.Empty(t, snap.Suggestions)
	assert.Contains(t, snap.Error, "timed out")
}

func TestController_TagValuePartialFailure(t *testing.T) {
	// the companion metric fetch fails but the controlling tag-value
	// fetch succeeds; suggestions still appear
	vocab := &fakeVocabulary{
		metricsErr: errors.New("boom"),
		tagValues:  []string{"web-01", "web-02"},
	}
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: vocab, Clock: clock})
	defer c.Close()

	query := "avg:cpu{host:web"
	c.OnInput(query, len(query))
	clock.Advance(DefaultDebounce)

	assert.Eventually(t, func() bool {
		snap := c.Snapshot()
		return len(snap.Suggestions) == 2
	}, time.Second, time.Millisecond)
	snap := c.Snapshot()
	assert.Empty(t, snap.Error)
	assert.Equal(t, querylang.CompletionTagValue, snap.Suggestions[0].Kind)
}

func TestController_UnauthorizedErrorMessage(t *testing.T) {
	vocab := &fakeVocabulary{
		tagKeysErr: ErrUnauthorized,
	}
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: vocab, Clock: clock})
	defer c.Close()

	query := "avg:cpu{"
	c.OnInput(query, len(query))
	clock.Advance(DefaultDebounce)

	assert.Eventually(t, func() bool {
		return c.Snapshot().Error != ""
	}, time.Second, time.Millisecond)
	snap := c.Snapshot()
	assert.Contains(t, snap.Error, "API key")
	assert.True(t, snap.IsOpen)
	assert.Empty(t, snap.Suggestions)
}

func TestController_RunQueryChordNeverSwallowed(t *testing.T) {
	var selected int
	clock := newFakeClock()
	c := NewController(Options{
		Vocabulary: &fakeVocabulary{},
		Clock:      clock,
		OnSelect:   func(querylang.Completion) { selected++ },
	})
	defer c.Close()

	c.OnInput("", 0)
	clock.Advance(DefaultDebounce)
	require.True(t, c.Snapshot().IsOpen)

	c.RunQueryChord()
	assert.False(t, c.Snapshot().IsOpen)
	assert.Zero(t, selected, "run-query chord closes the menu without committing")
}

func TestController_ClosedBraceContextClosesMenu(t *testing.T) {
	vocab := &fakeVocabulary{metricSets: [][]string{{"cpu"}}}
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: vocab, Clock: clock})
	defer c.Close()

	query := "avg:cpu{host:web-01}"
	c.OnInput(query, len(query))
	clock.Advance(DefaultDebounce)
	time.Sleep(20 * time.Millisecond)

	snap := c.Snapshot()
	assert.False(t, snap.IsOpen)
	metrics, tagKeys, tagValues := vocab.calls()
	assert.Zero(t, metrics+tagKeys+tagValues, "no fetch outside a completable context")
}

func TestController_ValidationRunsSynchronously(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: &fakeVocabulary{}, Clock: clock})
	defer c.Close()

	query := "avg:cpu{host}"
	c.OnInput(query, len(query))
	// no clock advance: validation feedback must not wait for the debounce
	assert.Contains(t, c.Snapshot().ValidationError, "incomplete tag")

	c.OnInput("avg:cpu{host:web}", 17)
	assert.Empty(t, c.Snapshot().ValidationError)
}

func TestController_DismissDiscardsInFlightFetch(t *testing.T) {
	gate := make(chan struct{})
	vocab := &fakeVocabulary{
		metricSets: [][]string{{"cpu"}},
		gate:       gate,
	}
	clock := newFakeClock()
	c := NewController(Options{Vocabulary: vocab, Clock: clock})
	defer c.Close()

	c.OnInput("avg:c", 5)
	clock.Advance(DefaultDebounce)
	assert.Eventually(t, func() bool {
		m, _, _ := vocab.calls()
		return m == 1
	}, time.Second, time.Millisecond)

	c.Dismiss()
	gate <- struct{}{}
	time.Sleep(20 * time.Millisecond)

	snap := c.Snapshot()
	assert.False(t, snap.IsOpen)
	assert.Empty(t, snap.Suggestions)
}

func TestController_OnChangeNotifications(t *testing.T) {
	var mu sync.Mutex
	var states []State
	clock := newFakeClock()
	c := NewController(Options{
		Vocabulary: &fakeVocabulary{metricSets: [][]string{{"cpu.total"}}},
		Clock:      clock,
		OnChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	defer c.Close()

	c.OnInput("avg:cpu", 7)
	clock.Advance(DefaultDebounce)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 {
			return false
		}
		last := states[len(states)-1]
		return last.IsOpen && len(last.Suggestions) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	var sawLoading bool
	for _, s := range states {
		if s.IsLoading {
			sawLoading = true
		}
	}
	assert.True(t, sawLoading, "loading state surfaces while the fetch is in flight")
}
