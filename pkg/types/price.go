package types

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSegment is a half-open interval [ValidFrom, ValidTo) with a constant
// price per kWh.
type PriceSegment struct {
	ValidFrom time.Time       `json:"validFrom"`
	ValidTo   time.Time       `json:"validTo"`
	Value     decimal.Decimal `json:"value"`
}

// Contains reports whether t falls within the segment.
func (p PriceSegment) Contains(t time.Time) bool {
	return !t.Before(p.ValidFrom) && t.Before(p.ValidTo)
}

// Duration returns the length of the segment.
func (p PriceSegment) Duration() time.Duration {
	return p.ValidTo.Sub(p.ValidFrom)
}

// Segments is a price timeline ordered by ValidFrom.
type Segments []PriceSegment

// Sort orders the segments by ValidFrom ascending.
func (s Segments) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].ValidFrom.Before(s[j].ValidFrom)
	})
}

// Validate checks that the timeline is ordered, has no overlaps or interior
// gaps, and fully covers [from, to).
func (s Segments) Validate(from, to time.Time) error {
	if len(s) == 0 {
		return fmt.Errorf("no price segments for %s - %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	for i, p := range s {
		if !p.ValidFrom.Before(p.ValidTo) {
			return fmt.Errorf("segment %d is empty or inverted (%s - %s)", i, p.ValidFrom.Format(time.RFC3339), p.ValidTo.Format(time.RFC3339))
		}
		if i == 0 {
			continue
		}
		prev := s[i-1]
		if p.ValidFrom.Before(prev.ValidTo) {
			return fmt.Errorf("segment %d (%s) overlaps previous segment ending %s", i, p.ValidFrom.Format(time.RFC3339), prev.ValidTo.Format(time.RFC3339))
		}
		if p.ValidFrom.After(prev.ValidTo) && p.ValidFrom.After(from) && prev.ValidTo.Before(to) {
			return fmt.Errorf("gap between %s and %s", prev.ValidTo.Format(time.RFC3339), p.ValidFrom.Format(time.RFC3339))
		}
	}
	if first := s[0]; first.ValidFrom.After(from) {
		return fmt.Errorf("prices start at %s, after requested %s", first.ValidFrom.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	if last := s[len(s)-1]; last.ValidTo.Before(to) {
		return fmt.Errorf("prices end at %s, before requested %s", last.ValidTo.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}

// Window returns the segments that intersect [from, to), unmodified.
func (s Segments) Window(from, to time.Time) Segments {
	var out Segments
	for _, p := range s {
		if p.ValidTo.After(from) && p.ValidFrom.Before(to) {
			out = append(out, p)
		}
	}
	return out
}

// At returns the segment containing t.
func (s Segments) At(t time.Time) (PriceSegment, bool) {
	i := sort.Search(len(s), func(i int) bool {
		return s[i].ValidTo.After(t)
	})
	if i < len(s) && s[i].Contains(t) {
		return s[i], true
	}
	return PriceSegment{}, false
}

// Scale multiplies every value by m, e.g. to apply VAT.
func (s Segments) Scale(m decimal.Decimal) Segments {
	out := make(Segments, len(s))
	for i, p := range s {
		p.Value = p.Value.Mul(m)
		out[i] = p
	}
	return out
}

// Sum adds two ordered timelines together. The result only covers the time
// where both inputs are defined and is split at every boundary of either.
func Sum(a, b Segments) Segments {
	var out Segments
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		from := maxTime(a[i].ValidFrom, b[j].ValidFrom)
		to := minTime(a[i].ValidTo, b[j].ValidTo)
		if from.Before(to) {
			out = append(out, PriceSegment{
				ValidFrom: from,
				ValidTo:   to,
				Value:     a[i].Value.Add(b[j].Value),
			})
		}
		if a[i].ValidTo.Before(b[j].ValidTo) {
			i++
		} else {
			j++
		}
	}
	return out
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
