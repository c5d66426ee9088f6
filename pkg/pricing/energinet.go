package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

// energinetTimeLayout is the zone-less layout Energi Data Service uses for
// HourUTC.
const energinetTimeLayout = "2006-01-02T15:04:05"

// Energinet implements Provider for the Energi Data Service day-ahead spot
// prices in Denmark. An optional fixed tariff table (grid fees, taxes) is
// added on top of the spot price.
type Energinet struct {
	baseURL  string
	region   string
	vat      decimal.Decimal
	currency string
	tariffs  *types.TariffTable
	client   *http.Client
}

func newEnerginet(cfg EnerginetConfig, client *http.Client) (*Energinet, error) {
	currency := strings.ToUpper(cfg.Currency)
	if currency != "DKK" && currency != "EUR" {
		return nil, fmt.Errorf("%w: energinet only publishes DKK and EUR prices, got %q", ErrConfiguration, cfg.Currency)
	}
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	e := &Energinet{
		baseURL:  baseURL,
		region:   cfg.Region,
		vat:      cfg.vat(),
		currency: currency,
		client:   client,
	}
	if cfg.FixedPrices != nil {
		table, err := loadTariffTable(*cfg.FixedPrices)
		if err != nil {
			return nil, err
		}
		e.tariffs = table
	}
	return e, nil
}

// Currency returns the currency of the spot prices.
func (e *Energinet) Currency() string {
	return e.currency
}

type energinetRecord struct {
	HourUTC      string           `json:"HourUTC"`
	PriceArea    string           `json:"PriceArea"`
	SpotPriceDKK *decimal.Decimal `json:"SpotPriceDKK"`
	SpotPriceEUR *decimal.Decimal `json:"SpotPriceEUR"`
}

type energinetResponse struct {
	Records []energinetRecord `json:"records"`
}

// GetPriceData implements Provider.
func (e *Energinet) GetPriceData(ctx context.Context, from, to time.Time) (types.Segments, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}

	u, err := url.Parse(e.baseURL + "Elspotprices")
	if err != nil {
		return nil, fmt.Errorf("%w: invalid energinet url: %w", ErrConfiguration, err)
	}
	filter, err := json.Marshal(map[string][]string{"PriceArea": {e.region}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode energinet filter: %w", err)
	}
	q := u.Query()
	q.Set("start", from.UTC().Truncate(time.Hour).Format("2006-01-02T15:04"))
	q.Set("end", to.UTC().Format("2006-01-02T15:04"))
	q.Set("filter", string(filter))
	q.Set("sort", "HourUTC asc")
	q.Set("timezone", "UTC")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from energinet", slog.String("url", u.String()))

	resp, err := do(e.client, "energinet", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res energinetResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode energinet response", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to decode energinet response: %w", ErrUpstreamUnavailable, err)
	}

	segs := make(types.Segments, 0, len(res.Records))
	for _, r := range res.Records {
		start, err := time.ParseInLocation(energinetTimeLayout, r.HourUTC, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid energinet HourUTC %q: %w", ErrUpstreamUnavailable, r.HourUTC, err)
		}
		price := r.SpotPriceDKK
		if e.currency == "EUR" {
			price = r.SpotPriceEUR
		}
		if price == nil {
			return nil, fmt.Errorf("%w: energinet has no %s price for %s", ErrUpstreamUnavailable, e.currency, r.HourUTC)
		}
		segs = append(segs, types.PriceSegment{
			ValidFrom: start,
			ValidTo:   start.Add(time.Hour),
			Value:     price.Div(thousand),
		})
	}

	if e.tariffs != nil {
		segs.Sort()
		segs = types.Sum(segs, e.tariffs.Segments(from, to))
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched energinet prices",
		slog.Int("count", len(segs)),
		slog.String("region", e.region),
		slog.Time("from", from),
		slog.Time("to", to),
	)
	return finish("energinet", segs, from, to, e.vat)
}
