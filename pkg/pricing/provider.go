package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=./pricingmock/mock_provider.go -package=pricingmock . Provider

// Provider is a source of electricity prices.
type Provider interface {
	// GetPriceData returns the price timeline covering [from, to). The result
	// is ordered, has no overlaps or gaps and is expressed in the provider's
	// configured currency with VAT applied.
	GetPriceData(ctx context.Context, from, to time.Time) (types.Segments, error)
}

var (
	// ErrInvalidArgument is returned when the requested window is empty or
	// inverted.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUpstreamUnavailable is returned when the price source cannot be
	// reached or returns a malformed or incomplete payload.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUnauthorized is returned when the price source rejects the
	// configured credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConfiguration is returned when provider settings are missing or
	// invalid.
	ErrConfiguration = errors.New("configuration error")
)

// Severity returns the level an error from a Provider should be logged at.
// Errors that need an operator are logged as errors, transient upstream
// problems as warnings.
func Severity(err error) slog.Level {
	switch {
	case err == nil:
		return slog.LevelInfo
	case errors.Is(err, ErrUpstreamUnavailable):
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func checkWindow(from, to time.Time) error {
	if !from.Before(to) {
		return fmt.Errorf("%w: from (%s) must be before to (%s)", ErrInvalidArgument, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}

// finish sorts raw segments, checks they cover [from, to) and applies vat.
func finish(name string, segs types.Segments, from, to time.Time, vat decimal.Decimal) (types.Segments, error) {
	segs.Sort()
	if err := segs.Validate(from, to); err != nil {
		return nil, fmt.Errorf("%w: %s returned incomplete prices: %w", ErrUpstreamUnavailable, name, err)
	}
	return segs.Scale(vat), nil
}

// do executes req and returns the response if it was successful, mapping
// failures onto the provider error taxonomy. The caller must close the body.
func do(client *http.Client, name string, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch %s prices: %w", ErrUpstreamUnavailable, name, err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s api returned status %d: %s", ErrUnauthorized, name, resp.StatusCode, body)
	default:
		return nil, fmt.Errorf("%w: %s api returned status %d: %s", ErrUpstreamUnavailable, name, resp.StatusCode, body)
	}
}
