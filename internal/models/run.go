package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus is the state of a mission run. The string values are part of the
// persisted schema.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Valid reports whether s is one of the four run statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunPending, RunRunning, RunCompleted, RunFailed:
		return true
	}
	return false
}

// Triggers recorded on a run.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerAPI       = "api"
)

// RunStats are the counters a run accumulates.
type RunStats struct {
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	KeywordsScanned int        `json:"keywords_scanned"`
	KeywordsMatched int        `json:"keywords_matched"`
	RegionsScanned  int        `json:"regions_scanned"`
	APICallsMade    int        `json:"api_calls_made"`
	ResultsStored   int        `json:"results_stored"`
	Errors          []string   `json:"errors"`
}

// DurationMS is the run duration in milliseconds, or 0 while incomplete.
func (s *RunStats) DurationMS() int64 {
	if s.CompletedAt == nil || s.StartedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt).Milliseconds()
}

// AddError records a recovered failure.
func (s *RunStats) AddError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// MarshalJSON adds the derived duration_ms field and always emits an errors array.
func (s RunStats) MarshalJSON() ([]byte, error) {
	type plain RunStats
	errs := s.Errors
	if errs == nil {
		errs = []string{}
	}
	p := plain(s)
	p.Errors = errs
	return json.Marshal(struct {
		plain
		DurationMS int64 `json:"duration_ms"`
	}{plain: p, DurationMS: s.DurationMS()})
}

// MissionRun is one execution of a mission.
type MissionRun struct {
	ID           string     `json:"id"`
	MissionID    string     `json:"mission_id"`
	RunNumber    int        `json:"run_number"`
	Status       RunStatus  `json:"status"`
	TriggeredBy  string     `json:"triggered_by"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Stats        RunStats   `json:"stats"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Transition moves the run to status to at time now. Allowed transitions are
// PENDING to RUNNING or FAILED, and RUNNING to COMPLETED or FAILED. Entering
// a terminal state sets CompletedAt.
func (r *MissionRun) Transition(to RunStatus, now time.Time) error {
	allowed := false
	switch r.Status {
	case RunPending:
		allowed = to == RunRunning || to == RunFailed
	case RunRunning:
		allowed = to == RunCompleted || to == RunFailed
	}
	if !allowed {
		return fmt.Errorf("invalid run transition %s -> %s", r.Status, to)
	}

	r.Status = to
	switch {
	case to == RunRunning:
		t := now
		r.StartedAt = &t
	case to.Terminal():
		t := now
		r.CompletedAt = &t
		r.Stats.CompletedAt = &t
	}
	return nil
}

// Fail moves the run to FAILED with msg, recording msg in the stats errors
// if it is not already there.
func (r *MissionRun) Fail(msg string, now time.Time) error {
	if err := r.Transition(RunFailed, now); err != nil {
		return err
	}
	r.ErrorMessage = msg
	for _, e := range r.Stats.Errors {
		if e == msg {
			return nil
		}
	}
	r.Stats.Errors = append(r.Stats.Errors, msg)
	return nil
}
