package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time as minutes since local midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as the end of the day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("15:04", s)
	if err != nil {
		if s == "24:00" {
			return minutesPerDay, nil
		}
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// on returns the instant of t on the calendar day of d in d's location.
func (t TimeOfDay) on(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), int(t)/60, int(t)%60, 0, 0, d.Location())
}

// TariffEntry is one row of a recurring daily tariff. An End at or before
// Start wraps past midnight into the next day.
type TariffEntry struct {
	Start TimeOfDay
	End   TimeOfDay
	Price decimal.Decimal
}

// ParseTariffEntry parses a row in the form "HH:MM-HH:MM=price".
func ParseTariffEntry(s string) (TariffEntry, error) {
	span, price, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return TariffEntry{}, fmt.Errorf("invalid tariff %q: expected HH:MM-HH:MM=price", s)
	}
	startStr, endStr, ok := strings.Cut(span, "-")
	if !ok {
		return TariffEntry{}, fmt.Errorf("invalid tariff %q: expected HH:MM-HH:MM=price", s)
	}
	start, err := ParseTimeOfDay(startStr)
	if err != nil {
		return TariffEntry{}, fmt.Errorf("invalid tariff %q: %w", s, err)
	}
	if start == minutesPerDay {
		start = 0
	}
	end, err := ParseTimeOfDay(endStr)
	if err != nil {
		return TariffEntry{}, fmt.Errorf("invalid tariff %q: %w", s, err)
	}
	if end == minutesPerDay {
		end = 0
	}
	value, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return TariffEntry{}, fmt.Errorf("invalid tariff price %q: %w", s, err)
	}
	return TariffEntry{Start: start, End: end, Price: value}, nil
}

// Wraps reports whether the entry continues past midnight.
func (e TariffEntry) Wraps() bool {
	return e.End <= e.Start
}

// length returns the number of minutes the entry covers each day.
func (e TariffEntry) length() int {
	if e.Wraps() {
		return minutesPerDay - int(e.Start) + int(e.End)
	}
	return int(e.End - e.Start)
}

func (e TariffEntry) String() string {
	return fmt.Sprintf("%s-%s=%s", e.Start, e.End, e.Price)
}

// TariffTable is a validated set of entries that tiles every day exactly.
type TariffTable struct {
	entries []TariffEntry
	loc     *time.Location
}

// ParseTariffTable parses rows in the form "HH:MM-HH:MM=price" and validates
// them with NewTariffTable.
func ParseTariffTable(rows []string, loc *time.Location) (*TariffTable, error) {
	entries := make([]TariffEntry, 0, len(rows))
	for _, row := range rows {
		if strings.TrimSpace(row) == "" {
			continue
		}
		e, err := ParseTariffEntry(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return NewTariffTable(entries, loc)
}

// NewTariffTable validates that entries cover all 24 hours of a day with no
// gap and no overlap.
func NewTariffTable(entries []TariffEntry, loc *time.Location) (*TariffTable, error) {
	if loc == nil {
		return nil, fmt.Errorf("tariff table requires a time zone")
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("tariff table has no entries")
	}
	sorted := make([]TariffEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	total := 0
	for i, e := range sorted {
		if e.Start == e.End && len(sorted) > 1 {
			return nil, fmt.Errorf("tariff %s covers the whole day but other tariffs exist", e)
		}
		total += e.length()
		next := sorted[(i+1)%len(sorted)]
		if e.End != next.Start {
			return nil, fmt.Errorf("tariff %s does not end where %s starts", e, next)
		}
	}
	if total != minutesPerDay {
		return nil, fmt.Errorf("tariffs cover %d minutes per day, expected %d", total, minutesPerDay)
	}
	return &TariffTable{entries: sorted, loc: loc}, nil
}

// Entries returns the table rows ordered by start time.
func (t *TariffTable) Entries() []TariffEntry {
	out := make([]TariffEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Location returns the time zone the table is interpreted in.
func (t *TariffTable) Location() *time.Location {
	return t.loc
}

// Segments expands the table into one segment per entry per local calendar
// day intersecting [from, to). Boundaries are computed from local wall-clock
// times so daylight saving transitions shift them correctly.
func (t *TariffTable) Segments(from, to time.Time) Segments {
	first := from.In(t.loc)
	// start a day early so an entry wrapping past midnight into from's day is included
	day := time.Date(first.Year(), first.Month(), first.Day()-1, 0, 0, 0, 0, t.loc)

	var out Segments
	for !day.After(to) {
		for _, e := range t.entries {
			start := e.Start.on(day)
			var end time.Time
			if e.Wraps() {
				end = e.End.on(day.AddDate(0, 0, 1))
			} else {
				end = e.End.on(day)
			}
			if !start.Before(end) || !end.After(from) || !start.Before(to) {
				continue
			}
			out = append(out, PriceSegment{
				ValidFrom: start,
				ValidTo:   end,
				Value:     e.Price,
			})
		}
		day = day.AddDate(0, 0, 1)
	}
	out.Sort()
	return out
}
