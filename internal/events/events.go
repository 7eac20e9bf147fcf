// Package events publishes run outcomes to Kafka. Publishing is
// asynchronous and best effort: a slow or dead broker never fails a run.
package events

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/report"
)

type EventType string

const (
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// RunEvent describes one finished run, successful or not.
type RunEvent struct {
	Type      EventType      `json:"type"`
	RunID     string         `json:"run_id"`
	Input     string         `json:"input"`
	Strategy  string         `json:"strategy"`
	Source    string         `json:"source"`
	RequestID string         `json:"request_id,omitempty"`
	Report    *report.Report `json:"report,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Completed builds the event for a successful run.
func Completed(source string, r *report.Report) RunEvent {
	return RunEvent{
		Type:      EventRunCompleted,
		RunID:     r.RunID,
		Input:     r.Input,
		Strategy:  r.Strategy,
		Source:    source,
		Report:    r,
		Timestamp: time.Now().UTC(),
	}
}

// Failed builds the event for a run that returned err.
func Failed(source, runID, input, strategy string, err error) RunEvent {
	return RunEvent{
		Type:      EventRunFailed,
		RunID:     runID,
		Input:     input,
		Strategy:  strategy,
		Source:    source,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
}
