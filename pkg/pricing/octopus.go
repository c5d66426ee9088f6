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

// octopusMaxPages bounds pagination so a misbehaving API cannot loop forever.
const octopusMaxPages = 50

var hundred = decimal.NewFromInt(100)

// Octopus implements Provider for Octopus Energy time-of-use tariffs such as
// Agile, using the public standard unit rates endpoint.
type Octopus struct {
	baseURL     string
	productCode string
	tariffCode  string
	vat         decimal.Decimal
	currency    string
	client      *http.Client
}

func newOctopus(cfg OctopusConfig, client *http.Client) *Octopus {
	baseURL := cfg.BaseURL
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Octopus{
		baseURL:     baseURL,
		productCode: cfg.ProductCode,
		tariffCode:  cfg.TariffCode,
		vat:         cfg.vat(),
		currency:    cfg.Currency,
		client:      client,
	}
}

// Currency returns the currency of the configured tariff.
func (o *Octopus) Currency() string {
	return o.currency
}

type octopusRate struct {
	ValueIncVAT decimal.Decimal `json:"value_inc_vat"`
	ValidFrom   time.Time       `json:"valid_from"`
	ValidTo     *time.Time      `json:"valid_to"`
}

type octopusResponse struct {
	Count   int           `json:"count"`
	Next    *string       `json:"next"`
	Results []octopusRate `json:"results"`
}

// GetPriceData implements Provider.
func (o *Octopus) GetPriceData(ctx context.Context, from, to time.Time) (types.Segments, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}

	u, err := url.Parse(o.baseURL + fmt.Sprintf(
		"products/%s/electricity-tariffs/%s/standard-unit-rates/",
		url.PathEscape(o.productCode),
		url.PathEscape(o.tariffCode),
	))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid octopus url: %w", ErrConfiguration, err)
	}
	q := u.Query()
	q.Set("period_from", from.UTC().Format(time.RFC3339))
	q.Set("period_to", to.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	var segs types.Segments
	next := u.String()
	for page := 0; next != ""; page++ {
		if page >= octopusMaxPages {
			return nil, fmt.Errorf("%w: octopus returned more than %d pages", ErrUpstreamUnavailable, octopusMaxPages)
		}
		res, err := o.fetchPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, r := range res.Results {
			// open ended rates are still in effect
			validTo := to
			if r.ValidTo != nil {
				validTo = *r.ValidTo
			}
			if !r.ValidFrom.Before(validTo) {
				continue
			}
			segs = append(segs, types.PriceSegment{
				ValidFrom: r.ValidFrom,
				ValidTo:   validTo,
				Value:     r.ValueIncVAT.Div(hundred),
			})
		}
		next = ""
		if res.Next != nil {
			next = *res.Next
		}
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched octopus prices",
		slog.String("tariff", o.tariffCode),
		slog.Int("count", len(segs)),
		slog.Time("from", from),
		slog.Time("to", to),
	)
	return finish("octopus", segs, from, to, o.vat)
}

func (o *Octopus) fetchPage(ctx context.Context, u string) (*octopusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from octopus", slog.String("url", u))

	resp, err := do(o.client, "octopus", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res octopusResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode octopus response", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to decode octopus response: %w", ErrUpstreamUnavailable, err)
	}
	return &res, nil
}
