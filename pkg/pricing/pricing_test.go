package pricing

import (
	"log/slog"
	"testing"
	"time"

	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func values(segs types.Segments) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Value.String()
	}
	return out
}

func requireCovers(t *testing.T, segs types.Segments, from, to time.Time) {
	t.Helper()
	require.NoError(t, segs.Validate(from, to))
}
