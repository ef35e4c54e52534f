// Package readings holds the per-cycle sensor snapshot.
//
// A snapshot keeps at most one value per category. The first store into a
// category wins; later stores are ignored until Clear. Callers that have more
// than one source for a category express priority by read order.
package readings

import (
	"fmt"
	"io"
	"math"

	"weatherstation-go/types"
)

// Reading is one stored value and the label of the sensor that produced it.
type Reading struct {
	Value float64
	Label string
}

type slot struct {
	Reading
	set bool
}

// Snapshot is not safe for concurrent use; the scheduler owns it.
type Snapshot struct {
	slots [types.NumCategories]slot
}

func New() *Snapshot { return &Snapshot{} }

// Clear resets every category to absent.
func (s *Snapshot) Clear() {
	s.slots = [types.NumCategories]slot{}
}

// Store records v for cat if the category is still absent. It reports whether
// the value was taken. NaN, infinities and unknown categories are refused.
func (s *Snapshot) Store(v float64, cat types.Category, label string) bool {
	if !cat.Valid() || math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	sl := &s.slots[cat]
	if sl.set {
		return false
	}
	sl.Value, sl.Label, sl.set = v, label, true
	return true
}

// Retrieve returns the stored reading for cat, if any.
func (s *Snapshot) Retrieve(cat types.Category) (Reading, bool) {
	if !cat.Valid() || !s.slots[cat].set {
		return Reading{}, false
	}
	return s.slots[cat].Reading, true
}

// Len is the number of present categories.
func (s *Snapshot) Len() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].set {
			n++
		}
	}
	return n
}

func (s *Snapshot) Empty() bool { return s.Len() == 0 }

// Each calls fn for every present category in category order.
func (s *Snapshot) Each(fn func(types.Category, Reading)) {
	for i := range s.slots {
		if s.slots[i].set {
			fn(types.Category(i), s.slots[i].Reading)
		}
	}
}

// Print writes a human-readable table of the present readings.
func (s *Snapshot) Print(w io.Writer) {
	if s.Empty() {
		fmt.Fprintln(w, "readings: none")
		return
	}
	s.Each(func(c types.Category, r Reading) {
		fmt.Fprintf(w, "%-22s %10.4f %-7s (%s)\n", c.String()+":", r.Value, c.Unit(), r.Label)
	})
}
