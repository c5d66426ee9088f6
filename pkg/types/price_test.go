package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourly(start time.Time, values ...string) Segments {
	segs := make(Segments, 0, len(values))
	for i, v := range values {
		from := start.Add(time.Duration(i) * time.Hour)
		segs = append(segs, PriceSegment{
			ValidFrom: from,
			ValidTo:   from.Add(time.Hour),
			Value:     decimal.RequireFromString(v),
		})
	}
	return segs
}

func TestSegmentsValidate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("covers", func(t *testing.T) {
		segs := hourly(base, "1", "2", "3")
		require.NoError(t, segs.Validate(base.Add(30*time.Minute), base.Add(3*time.Hour)))
	})

	t.Run("empty", func(t *testing.T) {
		assert.ErrorContains(t, Segments{}.Validate(base, base.Add(time.Hour)), "no price segments")
	})

	t.Run("starts late", func(t *testing.T) {
		segs := hourly(base, "1", "2")
		assert.ErrorContains(t, segs.Validate(base.Add(-time.Minute), base.Add(time.Hour)), "after requested")
	})

	t.Run("ends early", func(t *testing.T) {
		segs := hourly(base, "1", "2")
		assert.ErrorContains(t, segs.Validate(base, base.Add(3*time.Hour)), "before requested")
	})

	t.Run("gap inside window", func(t *testing.T) {
		segs := hourly(base, "1", "2", "3")
		segs = append(segs[:1], segs[2:]...)
		assert.ErrorContains(t, segs.Validate(base, base.Add(3*time.Hour)), "gap between")
	})

	t.Run("gap outside window", func(t *testing.T) {
		segs := hourly(base, "1", "2", "3")
		segs = append(segs[:1], segs[2:]...)
		require.NoError(t, segs.Validate(base.Add(2*time.Hour), base.Add(3*time.Hour)))
	})

	t.Run("overlap", func(t *testing.T) {
		segs := hourly(base, "1", "2")
		segs[1].ValidFrom = segs[1].ValidFrom.Add(-time.Minute)
		assert.ErrorContains(t, segs.Validate(base, base.Add(2*time.Hour)), "overlaps")
	})

	t.Run("unsorted", func(t *testing.T) {
		segs := hourly(base, "1", "2")
		segs[0], segs[1] = segs[1], segs[0]
		assert.Error(t, segs.Validate(base, base.Add(2*time.Hour)))
		segs.Sort()
		require.NoError(t, segs.Validate(base, base.Add(2*time.Hour)))
	})

	t.Run("inverted", func(t *testing.T) {
		segs := Segments{{ValidFrom: base, ValidTo: base}}
		assert.ErrorContains(t, segs.Validate(base, base), "empty or inverted")
	})
}

func TestSegmentsAt(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	segs := hourly(base, "1", "2", "3")

	p, ok := segs.At(base.Add(90 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, "2", p.Value.String())

	p, ok = segs.At(base.Add(2 * time.Hour))
	require.True(t, ok)
	assert.Equal(t, "3", p.Value.String())

	_, ok = segs.At(base.Add(3 * time.Hour))
	assert.False(t, ok)
	_, ok = segs.At(base.Add(-time.Second))
	assert.False(t, ok)
}

func TestSegmentsWindowAndScale(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	segs := hourly(base, "1", "2", "3", "4")

	window := segs.Window(base.Add(90*time.Minute), base.Add(3*time.Hour))
	require.Len(t, window, 2)
	assert.Equal(t, "2", window[0].Value.String())

	scaled := segs.Scale(decimal.RequireFromString("1.25"))
	assert.Equal(t, "1.25", scaled[0].Value.String())
	assert.Equal(t, "5", scaled[3].Value.String())
	// the input is not modified
	assert.Equal(t, "1", segs[0].Value.String())
}

func TestSum(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	spot := hourly(base, "1", "2", "3")
	table, err := ParseTariffTable([]string{"00:00-01:30=0.5", "01:30-00:00=0.25"}, time.UTC)
	require.NoError(t, err)
	tariff := table.Segments(base, base.Add(3*time.Hour))

	sum := Sum(spot, tariff)
	require.NoError(t, sum.Validate(base, base.Add(3*time.Hour)))
	require.Len(t, sum, 4)
	assert.Equal(t, "1.5", sum[0].Value.String())
	assert.Equal(t, "2.5", sum[1].Value.String())
	assert.Equal(t, 30*time.Minute, sum[1].Duration())
	assert.Equal(t, "2.25", sum[2].Value.String())
	assert.Equal(t, "3.25", sum[3].Value.String())
}
