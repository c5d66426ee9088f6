package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Awattar implements Provider for the aWATTar day-ahead market feed.
type Awattar struct {
	baseURL  string
	vat      decimal.Decimal
	currency string
	client   *http.Client
}

func newAwattar(cfg AwattarConfig, client *http.Client) *Awattar {
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Awattar{
		baseURL:  baseURL,
		vat:      cfg.vat(),
		currency: cfg.Currency,
		client:   client,
	}
}

// Currency returns the currency of the market prices.
func (a *Awattar) Currency() string {
	return a.currency
}

type awattarSlot struct {
	StartTimestamp int64           `json:"start_timestamp"`
	EndTimestamp   int64           `json:"end_timestamp"`
	MarketPrice    decimal.Decimal `json:"marketprice"`
	Unit           string          `json:"unit"`
}

type awattarResponse struct {
	Data []awattarSlot `json:"data"`
}

// GetPriceData implements Provider. Slots are returned at whatever
// granularity the market publishes them.
func (a *Awattar) GetPriceData(ctx context.Context, from, to time.Time) (types.Segments, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}

	u, err := url.Parse(a.baseURL + "marketdata")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid awattar url: %w", ErrConfiguration, err)
	}
	q := u.Query()
	// the market publishes slots aligned to the hour so ask for the one containing from
	q.Set("start", strconv.FormatInt(from.Truncate(time.Hour).UnixMilli(), 10))
	q.Set("end", strconv.FormatInt(to.UnixMilli(), 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from awattar", slog.String("url", u.String()))

	resp, err := do(a.client, "awattar", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res awattarResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode awattar response", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to decode awattar response: %w", ErrUpstreamUnavailable, err)
	}

	segs := make(types.Segments, 0, len(res.Data))
	for _, slot := range res.Data {
		var value decimal.Decimal
		switch strings.ToLower(slot.Unit) {
		case "eur/mwh":
			value = slot.MarketPrice.Div(thousand)
		case "eur/kwh":
			value = slot.MarketPrice
		default:
			return nil, fmt.Errorf("%w: unexpected awattar unit %q", ErrUpstreamUnavailable, slot.Unit)
		}
		segs = append(segs, types.PriceSegment{
			ValidFrom: time.UnixMilli(slot.StartTimestamp),
			ValidTo:   time.UnixMilli(slot.EndTimestamp),
			Value:     value,
		})
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched awattar prices",
		slog.Int("count", len(segs)),
		slog.Time("from", from),
		slog.Time("to", to),
	)
	return finish("awattar", segs, from, to, a.vat)
}
