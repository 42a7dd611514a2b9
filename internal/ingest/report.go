package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Outcome is the terminal result recorded for one work item.
type Outcome struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	ObjectKey string `json:"object_key,omitempty"`
	URI       string `json:"uri,omitempty"`
	State     State  `json:"state"`
	Reason    Reason `json:"reason,omitempty"`
	Detail    string `json:"detail,omitempty"`
	// Uploaded is true when this run transferred bytes for the item.
	Uploaded bool `json:"uploaded"`
}

// Counts summarizes a report.
type Counts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunReport is the final, in-memory summary of a run. Outcomes keep the
// enumeration order.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Succeeded returns the IDs of items that reached their goal state, sorted.
func (r *RunReport) Succeeded() []string {
	return r.idsIn(StateRegistered, StateDone)
}

// Skipped returns the IDs of skipped items, sorted.
func (r *RunReport) Skipped() []string {
	return r.idsIn(StateSkipped)
}

// Failed maps failed item IDs to their reason codes.
func (r *RunReport) Failed() map[string]Reason {
	out := make(map[string]Reason)
	if r == nil {
		return out
	}
	for _, o := range r.Outcomes {
		if o.State == StateFailed {
			out[o.ID] = o.Reason
		}
	}
	return out
}

// Counts returns per-partition totals.
func (r *RunReport) Counts() Counts {
	var c Counts
	if r == nil {
		return c
	}
	c.Total = len(r.Outcomes)
	for _, o := range r.Outcomes {
		switch o.State {
		case StateRegistered, StateDone:
			c.Succeeded++
		case StateFailed:
			c.Failed++
		case StateSkipped:
			c.Skipped++
		}
	}
	return c
}

// HasFailures reports whether any item failed.
func (r *RunReport) HasFailures() bool {
	return r.Counts().Failed > 0
}

// Outcome looks up the outcome for an item.
func (r *RunReport) Outcome(id string) (Outcome, bool) {
	if r == nil {
		return Outcome{}, false
	}
	for _, o := range r.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	if r == nil || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// CheckPartition verifies that the report covers exactly the given items,
// each once.
func (r *RunReport) CheckPartition(items []WorkItem) error {
	want := make(map[string]struct{}, len(items))
	for _, item := range items {
		want[item.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if _, dup := seen[o.ID]; dup {
			return fmt.Errorf("item %s reported more than once", o.ID)
		}
		seen[o.ID] = struct{}{}
		if _, ok := want[o.ID]; !ok {
			return fmt.Errorf("item %s reported but not enumerated", o.ID)
		}
		if !o.State.IsTerminal() {
			return fmt.Errorf("item %s ended in non-terminal state %s", o.ID, o.State)
		}
	}
	for id := range want {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("item %s missing from report", id)
		}
	}
	return nil
}

func (r *RunReport) idsIn(states ...State) []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, o := range r.Outcomes {
		for _, state := range states {
			if o.State == state {
				ids = append(ids, o.ID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// ErrUnknownItem is returned when a tracker is asked about an item it was not
// created with.
var ErrUnknownItem = errors.New("unknown work item")

type tracked struct {
	item    WorkItem
	state   State
	outcome Outcome
}

// Tracker accumulates per-item state during a run. It is safe for concurrent
// use, although the pipeline funnels all updates through one goroutine.
type Tracker struct {
	mu    sync.Mutex
	order []string
	items map[string]*tracked
}

// NewTracker registers every item in the enumerated state. Duplicate IDs are
// rejected.
func NewTracker(items []WorkItem) (*Tracker, error) {
	t := &Tracker{
		order: make([]string, 0, len(items)),
		items: make(map[string]*tracked, len(items)),
	}
	for _, item := range items {
		if _, exists := t.items[item.ID]; exists {
			return nil, fmt.Errorf("duplicate work item id %q", item.ID)
		}
		t.order = append(t.order, item.ID)
		t.items[item.ID] = &tracked{
			item:  item,
			state: StateEnumerated,
			outcome: Outcome{
				ID:        item.ID,
				Key:       item.Key,
				ObjectKey: item.ObjectKey,
			},
		}
	}
	return t, nil
}

// Advance moves an item to a non-terminal state.
func (t *Tracker) Advance(id string, next State) error {
	if next.IsTerminal() {
		return fmt.Errorf("advance %s: %s is terminal", id, next)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.items[id]
	if !ok {
		return fmt.Errorf("advance %s: %w", id, ErrUnknownItem)
	}
	if !entry.state.CanAdvance(next) {
		return fmt.Errorf("advance %s: illegal transition %s -> %s", id, entry.state, next)
	}
	entry.state = next
	return nil
}

// SetURI records the remote URI for an item.
func (t *Tracker) SetURI(id, uri string, uploaded bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.items[id]
	if !ok {
		return fmt.Errorf("set uri %s: %w", id, ErrUnknownItem)
	}
	entry.outcome.URI = uri
	entry.outcome.Uploaded = uploaded
	return nil
}

// Register marks an item registered.
func (t *Tracker) Register(id string) error {
	return t.finish(id, StateRegistered, ReasonNone, "")
}

// Complete marks an item done for variants that have no registration step.
func (t *Tracker) Complete(id string) error {
	return t.finish(id, StateDone, ReasonNone, "")
}

// Fail marks an item failed with a reason code and detail message.
func (t *Tracker) Fail(id string, reason Reason, detail string) error {
	return t.finish(id, StateFailed, reason, detail)
}

// Skip marks an item skipped.
func (t *Tracker) Skip(id string, reason Reason, detail string) error {
	return t.finish(id, StateSkipped, reason, detail)
}

func (t *Tracker) finish(id string, state State, reason Reason, detail string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.items[id]
	if !ok {
		return fmt.Errorf("finish %s: %w", id, ErrUnknownItem)
	}
	if !entry.state.CanAdvance(state) {
		return fmt.Errorf("finish %s: illegal transition %s -> %s", id, entry.state, state)
	}
	entry.state = state
	entry.outcome.State = state
	entry.outcome.Reason = reason
	entry.outcome.Detail = detail
	return nil
}

// State returns the current state of an item.
func (t *Tracker) State(id string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.items[id]
	if !ok {
		return "", false
	}
	return entry.state, true
}

// Pending returns the IDs of items that have not reached a terminal state, in
// enumeration order.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for _, id := range t.order {
		if !t.items[id].state.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Report finalizes the run. Every item must be terminal.
func (t *Tracker) Report(runID, mode string, started, finished time.Time) (*RunReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	report := &RunReport{
		RunID:      runID,
		Mode:       mode,
		StartedAt:  started,
		FinishedAt: finished,
		Outcomes:   make([]Outcome, 0, len(t.order)),
	}
	for _, id := range t.order {
		entry := t.items[id]
		if !entry.state.IsTerminal() {
			return nil, fmt.Errorf("item %s still %s at end of run", id, entry.state)
		}
		report.Outcomes = append(report.Outcomes, entry.outcome)
	}
	return report, nil
}
