// Package report renders the outcome of a counting run as text or JSON.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter"
	"github.com/Adithya-Monish-Kumar-K/termfreq/internal/counter/freq"
)

// Output formats accepted by Write.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Report is the serializable summary of a run. It is also the value cached
// by the service and published with run events.
type Report struct {
	RunID          string           `json:"run_id"`
	Input          string           `json:"input"`
	Strategy       string           `json:"strategy"`
	Workers        int              `json:"workers"`
	K              int              `json:"k"`
	Top            []freq.Entry     `json:"top"`
	Stats          counter.RunStats `json:"stats"`
	StartedAt      time.Time        `json:"started_at"`
	ElapsedSeconds float64          `json:"elapsed_seconds"`
	Cached         bool             `json:"cached,omitempty"`
}

// FromResult summarizes a counter result.
func FromResult(res *counter.Result) *Report {
	return &Report{
		RunID:          res.RunID,
		Input:          res.Input,
		Strategy:       res.Strategy,
		Workers:        res.Workers,
		K:              res.K,
		Top:            res.Top,
		Stats:          res.Stats,
		StartedAt:      res.StartedAt,
		ElapsedSeconds: res.Elapsed.Seconds(),
	}
}

// Write renders r to w in the given format.
func Write(w io.Writer, r *Report, format string) error {
	switch format {
	case "", FormatText:
		return WriteText(w, r)
	case FormatJSON:
		return WriteJSON(w, r)
	}
	return fmt.Errorf("unknown report format %q", format)
}

// WriteText prints the ranked terms followed by the elapsed time:
//
//	Top 3 terms:
//	the: 3
//	cat: 2
//	sat: 1
//	Execution time (threaded): 0.000412 seconds
func WriteText(w io.Writer, r *Report) error {
	if _, err := fmt.Fprintf(w, "Top %d terms:\n", r.K); err != nil {
		return err
	}
	for _, e := range r.Top {
		if _, err := fmt.Fprintf(w, "%s: %d\n", e.Term, e.Count); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Execution time (%s): %f seconds\n", r.Strategy, r.ElapsedSeconds)
	return err
}

// WriteJSON encodes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
