// Package visit tracks which browsing visit is currently active and
// applies the lifecycle control messages that change it.
package visit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Diagnostics receives protocol anomalies. The relay implements it by
// writing to local output and the log sink.
type Diagnostics interface {
	LogDebug(msg string) error
	LogWarn(msg string) error
	LogError(msg string) error
}

// MetaSink forwards annotated lifecycle messages as meta_information.
// SendMeta is called with the tracker lock held and must not block.
type MetaSink interface {
	SendMeta(record json.RawMessage) error
}

// Anomaly is an out-of-order or malformed lifecycle event. None of them
// stops processing.
type Anomaly int

const (
	// AnomalyOverwrite: Initialize while another visit was active.
	AnomalyOverwrite Anomaly = iota + 1
	// AnomalyFinalizeWithoutVisit: Finalize while no visit was active.
	AnomalyFinalizeWithoutVisit
	// AnomalyFinalizeMismatch: Finalize for an id other than the active one.
	AnomalyFinalizeMismatch
	// AnomalyUnparsable: legacy payload was not an integer.
	AnomalyUnparsable
)

func (a Anomaly) String() string {
	switch a {
	case AnomalyOverwrite:
		return "overwrite"
	case AnomalyFinalizeWithoutVisit:
		return "finalize_without_visit"
	case AnomalyFinalizeMismatch:
		return "finalize_mismatch"
	case AnomalyUnparsable:
		return "unparsable"
	default:
		return "unknown"
	}
}

// State is the active visit, if any.
type State struct {
	VisitID int64
	Active  bool
}

func (s State) String() string {
	if !s.Active {
		return "null"
	}
	return strconv.FormatInt(s.VisitID, 10)
}

func stateOf(id int64, ok bool) State {
	if !ok || id <= 0 {
		return State{}
	}
	return State{VisitID: id, Active: true}
}

// Transition describes what one control message did.
type Transition struct {
	Action    Action
	Before    State
	After     State
	Anomalies []Anomaly
	// Forwarded is set when a meta record was handed to the sink.
	Forwarded  bool
	ForwardErr error
}

// Tracker is the single source of truth for the active visit.
type Tracker struct {
	browserID int64
	sink      MetaSink
	diag      Diagnostics

	mu    sync.Mutex
	state State
}

// NewTracker returns a tracker with no active visit. sink may be nil
// when no storage collector is connected.
func NewTracker(browserID int64, sink MetaSink, diag Diagnostics) *Tracker {
	return &Tracker{browserID: browserID, sink: sink, diag: diag}
}

// Current returns the active visit id and whether one is active.
func (t *Tracker) Current() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.VisitID, t.state.Active
}

// State returns the active visit.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// WithCurrent calls fn with the active visit while holding the tracker
// lock, so no transition (or its meta forward) can interleave with fn.
// fn must not call back into the tracker.
func (t *Tracker) WithCurrent(fn func(id int64, active bool) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(t.state.VisitID, t.state.Active)
}

// Handle applies msg. The state change and the meta forward happen under
// the lock; diagnostics are written after it is released.
func (t *Tracker) Handle(msg ControlMessage) Transition {
	tr := Transition{Action: msg.Action}
	next := stateOf(msg.VisitID, msg.HasVisitID)

	t.mu.Lock()
	tr.Before = t.state
	switch msg.Action {
	case ActionInitialize:
		if t.state.Active {
			tr.Anomalies = append(tr.Anomalies, AnomalyOverwrite)
		}
		t.state = next
	case ActionFinalize:
		if !t.state.Active {
			tr.Anomalies = append(tr.Anomalies, AnomalyFinalizeWithoutVisit)
		}
		if next != t.state {
			tr.Anomalies = append(tr.Anomalies, AnomalyFinalizeMismatch)
		}
		t.state = State{}
	case ActionLegacy:
		t.state = next
	default:
		tr.Anomalies = append(tr.Anomalies, AnomalyUnparsable)
		t.state = State{}
	}
	tr.After = t.state
	switch msg.Action {
	case ActionInitialize, ActionFinalize:
		tr.Forwarded, tr.ForwardErr = t.forward(msg)
	}
	t.mu.Unlock()

	t.report(msg, tr)
	return tr
}

func (t *Tracker) report(msg ControlMessage, tr Transition) {
	if t.diag == nil {
		return
	}
	// Anything without a recognised tag went down the legacy path.
	if msg.Action == ActionLegacy || msg.Action == ActionInvalid {
		_ = t.diag.LogDebug("Setting visit_id the legacy way")
	}
	received := stateOf(msg.VisitID, msg.HasVisitID)
	for _, a := range tr.Anomalies {
		switch a {
		case AnomalyOverwrite:
			_ = t.diag.LogWarn("Set visit_id while another visit_id was set")
		case AnomalyFinalizeWithoutVisit:
			_ = t.diag.LogWarn("Received Finalize while no visit_id was set")
		case AnomalyFinalizeMismatch:
			_ = t.diag.LogError(fmt.Sprintf(
				"Received Finalize but visit_id didn't match. Current visit_id %s, received visit_id %s.",
				tr.Before, received))
		case AnomalyUnparsable:
			_ = t.diag.LogWarn(fmt.Sprintf("Setting visit_id the legacy way failed: %s. visit_id cleared", msg.Reason))
		}
	}
}

func (t *Tracker) forward(msg ControlMessage) (bool, error) {
	if t.sink == nil {
		return false, nil
	}
	record, err := annotate(msg, t.browserID, msg.Action == ActionFinalize)
	if err != nil {
		return false, err
	}
	if err := t.sink.SendMeta(record); err != nil {
		return false, err
	}
	return true, nil
}
