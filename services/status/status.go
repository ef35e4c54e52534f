// Package status publishes a summary of every completed cycle to optional
// side channels. Reporters never affect the cycle outcome.
package status

import (
	"context"
	"errors"
	"time"

	"weatherstation-go/readings"
	"weatherstation-go/types"
)

// Report describes one finished cycle.
type Report struct {
	Device   string
	Time     time.Time
	Test     bool
	Readings map[string]float64
	Acquire  time.Duration
	Transmit time.Duration
	Sleep    time.Duration
	Sent     bool
	Synced   bool
	Link     types.LinkState
}

// FromSnapshot copies the present values of s keyed by field name.
func FromSnapshot(s *readings.Snapshot) map[string]float64 {
	out := make(map[string]float64)
	if s == nil {
		return out
	}
	s.Each(func(c types.Category, r readings.Reading) { out[c.Field()] = r.Value })
	return out
}

type Reporter interface {
	Report(ctx context.Context, r Report) error
}

// Multi fans a report out to every reporter and joins their errors.
type Multi []Reporter

func (m Multi) Report(ctx context.Context, r Report) error {
	var errs []error
	for _, rep := range m {
		if rep == nil {
			continue
		}
		if err := rep.Report(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
