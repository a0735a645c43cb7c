// Package autocomplete binds the query parser, validator and suggestion
// generator to a live editing session: it debounces input, fetches
// metric/tag vocabularies, guards against stale responses, and exposes
// the keyboard/mouse interaction surface of the suggestion menu.
//
// The controller is host-agnostic: the Grafana frontend, the ddql
// terminal console and the tests all drive it through the same API.
package autocomplete

import (
	"context"
	"sync"
	"time"

	"github.com/wasilak/datadog-datasource/pkg/querylang"
)

const (
	// DefaultDebounce is the quiet period after the last keystroke
	// before a vocabulary fetch starts.
	DefaultDebounce = 400 * time.Millisecond

	// DefaultFetchTimeout is the hard budget for one vocabulary fetch.
	DefaultFetchTimeout = 2 * time.Second
)

// State is the UI-facing snapshot of the suggestion menu. Suggestions is
// the source of truth for indexing; Grouped is the same items partitioned
// for display. HoveredIndex is -1 when no item is hovered.
type State struct {
	IsOpen          bool
	Suggestions     []querylang.Completion
	Grouped         []querylang.CompletionGroup
	IsLoading       bool
	SelectedIndex   int
	HoveredIndex    int
	Error           string
	ValidationError string
}

// Options configures a Controller. Vocabulary is required; zero values
// elsewhere fall back to defaults (real clock, 400ms debounce, 2s fetch
// timeout, no callbacks).
type Options struct {
	Vocabulary   Vocabulary
	Clock        Clock
	Debounce     time.Duration
	FetchTimeout time.Duration

	// OnChange is invoked with a state snapshot after every state
	// transition. Called without internal locks held, so hosts may call
	// back into the controller.
	OnChange func(State)

	// OnSelect is invoked when the user commits a suggestion. The host
	// owns splicing InsertText into its editor buffer in place of the
	// current token.
	OnSelect func(querylang.Completion)
}

// Controller owns the autocomplete lifecycle for one editor instance.
// All methods are safe for concurrent use.
type Controller struct {
	opts Options

	mu     sync.Mutex
	closed bool

	text   string
	cursor int
	qctx   querylang.Context

	state State

	// gen increments on every input; a fetch result is applied only when
	// its generation still matches, so a response issued before newer
	// input can never overwrite newer state.
	gen         uint64
	activeFetch uint64

	debounceTimer Timer
	fetchTimer    Timer
	fetchCancel   context.CancelFunc
}

// NewController creates a controller in the closed/idle state.
func NewController(opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Controller{
		opts:  opts,
		state: State{HoveredIndex: -1},
	}
}

// OnInput records a new text/cursor pair. Parsing and validation run
// synchronously; the vocabulary fetch is scheduled after the debounce
// quiet period, cancelling any pending timer or in-flight fetch.
func (c *Controller) OnInput(text string, cursor int) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	c.cancelPendingLocked()

	c.text, c.cursor = text, cursor
	c.qctx = querylang.Parse(text, cursor)

	c.state.ValidationError = ""
	if result := querylang.Validate(text); !result.Valid && len(result.Problems) > 0 {
		p := result.Problems[0]
		c.state.ValidationError = p.Message + " (" + p.Fix + ")"
	}

	if c.qctx.Kind == querylang.KindOther {
		c.closeMenuLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		return
	}

	c.debounceTimer = c.opts.Clock.AfterFunc(c.opts.Debounce, func() {
		c.startFetch(gen)
	})
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// Context returns the most recently parsed query context.
func (c *Controller) Context() querylang.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qctx
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// MoveDown advances the selection circularly. Active only while the menu
// is open with suggestions.
func (c *Controller) MoveDown() {
	c.moveSelection(func(i, n int) int { return (i + 1) % n })
}

// MoveUp moves the selection up circularly.
func (c *Controller) MoveUp() {
	c.moveSelection(func(i, n int) int {
		if i == 0 {
			return n - 1
		}
		return i - 1
	})
}

func (c *Controller) moveSelection(next func(i, n int) int) {
	c.mu.Lock()
	if c.closed || !c.state.IsOpen || len(c.state.Suggestions) == 0 {
		c.mu.Unlock()
		return
	}
	c.state.SelectedIndex = next(c.state.SelectedIndex, len(c.state.Suggestions))
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// Hover marks an item as hovered; mouse hover takes over the keyboard
// selection.
func (c *Controller) Hover(index int) {
	c.mu.Lock()
	if c.closed || !c.state.IsOpen || index < 0 || index >= len(c.state.Suggestions) {
		c.mu.Unlock()
		return
	}
	c.state.HoveredIndex = index
	c.state.SelectedIndex = index
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// Commit closes the menu and emits the selected item. It reports the
// committed completion and whether anything was committed.
func (c *Controller) Commit() (querylang.Completion, bool) {
	c.mu.Lock()
	if c.closed || !c.state.IsOpen || len(c.state.Suggestions) == 0 {
		c.mu.Unlock()
		return querylang.Completion{}, false
	}
	item := c.state.Suggestions[c.state.SelectedIndex]
	c.cancelPendingLocked()
	c.closeMenuLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
	if c.opts.OnSelect != nil {
		c.opts.OnSelect(item)
	}
	return item, true
}

// Click is equivalent to hovering an item and pressing Enter on it.
func (c *Controller) Click(index int) (querylang.Completion, bool) {
	c.Hover(index)
	return c.Commit()
}

// Dismiss closes the menu without emitting a selection (Escape).
func (c *Controller) Dismiss() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelPendingLocked()
	c.closeMenuLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// RunQueryChord closes the menu as a side effect of the platform
// run-query chord (Cmd/Ctrl+Enter). It never consumes the keystroke: the
// host must still run its query action after calling this.
func (c *Controller) RunQueryChord() {
	c.Dismiss()
}

// Close tears the controller down on editor unmount: the debounce timer
// is cancelled and any in-flight fetch becomes a no-op on arrival.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelPendingLocked()
	c.closeMenuLocked()
}

// startFetch runs when the debounce quiet period elapses.
func (c *Controller) startFetch(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.debounceTimer = nil

	plan := planFor(c.qctx, c.text)
	if !plan.any() {
		// static vocabulary (aggregators); no fetch needed
		c.applyItemsLocked(querylang.Generate(c.qctx, nil, nil))
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(snap)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.fetchCancel = cancel
	c.activeFetch = gen
	c.state.IsLoading = true
	c.state.Error = ""
	c.fetchTimer = c.opts.Clock.AfterFunc(c.opts.FetchTimeout, func() {
		c.onFetchTimeout(gen)
	})
	qctx := c.qctx
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)

	go c.runFetch(ctx, gen, qctx, plan)
}

type fetchPlan struct {
	needMetrics   bool
	needTagKeys   bool
	needTagValues bool
	metric        string
	tagKey        string
}

func (p fetchPlan) any() bool {
	return p.needMetrics || p.needTagKeys || p.needTagValues
}

func planFor(qctx querylang.Context, text string) fetchPlan {
	switch qctx.Kind {
	case querylang.KindMetric:
		return fetchPlan{needMetrics: true}
	case querylang.KindTagKey, querylang.KindFilterTagKey:
		return fetchPlan{needTagKeys: true, metric: qctx.Metric}
	case querylang.KindGrouping:
		return fetchPlan{needTagKeys: true, metric: querylang.MetricName(text)}
	case querylang.KindTagValue, querylang.KindFilterTagValue:
		// metric list and tag values are fetched concurrently; either may
		// fail without blanking the other's results
		return fetchPlan{needMetrics: true, needTagValues: true, metric: qctx.Metric, tagKey: qctx.TagKey}
	}
	return fetchPlan{}
}

// runFetch performs the planned vocabulary calls concurrently and applies
// the outcome if the generation is still current.
func (c *Controller) runFetch(ctx context.Context, gen uint64, qctx querylang.Context, plan fetchPlan) {
	var (
		wg         sync.WaitGroup
		metrics    []string
		tags       []string
		metricsErr error
		tagsErr    error
	)

	if plan.needMetrics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics, metricsErr = c.opts.Vocabulary.MetricNames(ctx)
		}()
	}
	if plan.needTagKeys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tags, tagsErr = c.opts.Vocabulary.TagKeys(ctx, plan.metric)
		}()
	}
	if plan.needTagValues {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tags, tagsErr = c.opts.Vocabulary.TagValues(ctx, plan.metric, plan.tagKey)
		}()
	}
	wg.Wait()

	// The fetch controlling the current context decides success; a
	// failure of the companion fetch alone degrades gracefully.
	ctrlErr, otherErr := metricsErr, error(nil)
	if plan.needTagKeys || plan.needTagValues {
		ctrlErr, otherErr = tagsErr, metricsErr
	}

	c.mu.Lock()
	if c.closed || gen != c.gen || c.activeFetch != gen {
		c.mu.Unlock()
		return // stale response, discard
	}
	c.activeFetch = 0
	if c.fetchTimer != nil {
		c.fetchTimer.Stop()
		c.fetchTimer = nil
	}
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	c.state.IsLoading = false

	if ctrlErr != nil {
		msg := fetchErrorMessage(ctrlErr)
		if otherErr != nil {
			msg += "; " + fetchErrorMessage(otherErr)
		}
		c.state.Error = msg
		c.state.Suggestions = nil
		c.state.Grouped = nil
		c.state.SelectedIndex = 0
		c.state.HoveredIndex = -1
		// stay open so the user sees why nothing appeared
		c.state.IsOpen = true
	} else {
		c.applyItemsLocked(querylang.Generate(qctx, metrics, tags))
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// onFetchTimeout fires when a fetch exceeds its budget. The menu stays
// open showing the timeout; the next keystroke retries naturally.
func (c *Controller) onFetchTimeout(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.activeFetch != gen {
		c.mu.Unlock()
		return
	}
	c.activeFetch = 0
	c.fetchTimer = nil
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	c.state.IsLoading = false
	c.state.Error = fetchErrorMessage(ErrTimeout)
	c.state.Suggestions = nil
	c.state.Grouped = nil
	c.state.SelectedIndex = 0
	c.state.HoveredIndex = -1
	c.state.IsOpen = true
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emit(snap)
}

// applyItemsLocked installs a fresh suggestion batch.
func (c *Controller) applyItemsLocked(items []querylang.Completion) {
	c.state.Error = ""
	c.state.Suggestions = items
	c.state.Grouped = querylang.Group(items)
	c.state.SelectedIndex = 0
	c.state.HoveredIndex = -1
	c.state.IsOpen = len(items) > 0
}

func (c *Controller) closeMenuLocked() {
	c.state.IsOpen = false
	c.state.IsLoading = false
	c.state.Suggestions = nil
	c.state.Grouped = nil
	c.state.SelectedIndex = 0
	c.state.HoveredIndex = -1
	c.state.Error = ""
}

// cancelPendingLocked stops the debounce timer and abandons any in-flight
// fetch so its eventual resolution cannot touch state.
func (c *Controller) cancelPendingLocked() {
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if c.fetchTimer != nil {
		c.fetchTimer.Stop()
		c.fetchTimer = nil
	}
	if c.fetchCancel != nil {
		c.fetchCancel()
		c.fetchCancel = nil
	}
	c.activeFetch = 0
	c.state.IsLoading = false
}

func (c *Controller) snapshotLocked() State {
	snap := c.state
	snap.Suggestions = append([]querylang.Completion(nil), c.state.Suggestions...)
	snap.Grouped = append([]querylang.CompletionGroup(nil), c.state.Grouped...)
	return snap
}

func (c *Controller) emit(snap State) {
	if c.opts.OnChange != nil {
		c.opts.OnChange(snap)
	}
}
