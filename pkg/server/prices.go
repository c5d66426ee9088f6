package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/pricing"
	"github.com/raterudder/chargerate/pkg/types"
)

type pricesResponse struct {
	Provider pricing.ProviderID `json:"provider"`
	Currency string             `json:"currency"`
	From     time.Time          `json:"from"`
	To       time.Time          `json:"to"`
	Segments types.Segments     `json:"segments"`
}

// statusForError maps provider errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, pricing.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, pricing.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, pricing.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := s.parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	segs, err := s.prices.GetPriceData(ctx, from, to)
	if err != nil {
		log.Ctx(ctx).Log(ctx, pricing.Severity(err), "failed to get prices", slog.String("provider", string(s.prices.ID())), slog.Any("error", err))
		writeJSONError(w, "failed to get prices: "+err.Error(), statusForError(err))
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	writeJSON(w, pricesResponse{
		Provider: s.prices.ID(),
		Currency: s.prices.Currency(),
		From:     from,
		To:       to,
		Segments: segs,
	})
}

func (s *Server) handleArchivedPrices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, err := s.parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	segs, err := s.archive.GetSegments(ctx, string(s.prices.ID()), from, to)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get archived prices", slog.String("provider", string(s.prices.ID())), slog.Any("error", err))
		writeJSONError(w, "failed to get archived prices", http.StatusInternalServerError)
		return
	}
	if segs == nil {
		segs = types.Segments{}
	}

	// If the range ends before today (midnight today), cache for 24 hours.
	// Otherwise, cache for 1 minute.
	today := time.Now().Truncate(24 * time.Hour)
	if to.Before(today) {
		w.Header().Set("Cache-Control", "private, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	writeJSON(w, pricesResponse{
		Provider: s.prices.ID(),
		Currency: s.prices.Currency(),
		From:     from,
		To:       to,
		Segments: segs,
	})
}

// parseTimeRange reads the RFC3339 from and to query parameters. Without
// them the range is the next 24 hours starting at the current hour.
func (s *Server) parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	fromStr := r.URL.Query().Get("from")
	toStr := r.URL.Query().Get("to")

	if fromStr == "" && toStr == "" {
		from := time.Now().Truncate(time.Hour)
		return from, from.Add(24 * time.Hour), nil
	}
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("from and to must both be set")
	}

	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid from time: %w", err)
	}

	to, err := time.Parse(time.RFC3339, toStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid to time: %w", err)
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be before to")
	}

	if s.maxRange > 0 && to.Sub(from) > s.maxRange {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed %s", s.maxRange)
	}

	return from, to, nil
}
