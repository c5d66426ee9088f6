package scheduler

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/chargerate/pkg/log"
)

// Settings holds the flag-driven schedule.
type Settings struct {
	Interval time.Duration
}

// Configured registers the scheduling flags. The returned Settings are
// populated once lflag.Configure has run.
func Configured() *Settings {
	s := &Settings{}
	seconds := lflag.Int("update-interval-seconds", 300, "Seconds between price updates")

	lflag.Do(func() {
		ctx := context.Background()
		if *seconds <= 0 {
			log.Ctx(ctx).ErrorContext(ctx, "update-interval-seconds must be positive", slog.Int("value", *seconds))
			os.Exit(1)
		}
		s.Interval = time.Duration(*seconds) * time.Second
	})

	return s
}
