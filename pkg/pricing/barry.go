package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/raterudder/chargerate/pkg/common"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

const barryPriceMethod = "co.getbarry.api.v1.OpenApiController.getTotalKwHourlyPrice"

// Barry implements Provider for the Barry JSON-RPC API. Prices are the total
// per kWh for a metering point, tariffs included.
type Barry struct {
	url      string
	mpid     string
	vat      decimal.Decimal
	currency string
	client   *http.Client
}

func newBarry(cfg BarryConfig, client *http.Client) *Barry {
	return &Barry{
		url:      cfg.BaseURL,
		mpid:     cfg.MPID,
		vat:      cfg.vat(),
		currency: cfg.Currency,
		client:   common.WrapClient(client, common.WithBearerToken(cfg.APIKey)),
	}
}

// Currency returns the currency of the prices.
func (b *Barry) Currency() string {
	return b.currency
}

type barryRequest struct {
	Method  string `json:"method"`
	ID      int    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Params  []any  `json:"params"`
}

type barryPrice struct {
	Start time.Time        `json:"start"`
	End   time.Time        `json:"end"`
	Value *decimal.Decimal `json:"value"`
}

type barryError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type barryResponse struct {
	Result []barryPrice `json:"result"`
	Error  *barryError  `json:"error"`
}

// GetPriceData implements Provider.
func (b *Barry) GetPriceData(ctx context.Context, from, to time.Time) (types.Segments, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}

	body, err := json.Marshal(barryRequest{
		Method:  barryPriceMethod,
		JSONRPC: "2.0",
		Params: []any{
			b.mpid,
			from.UTC().Truncate(time.Hour).Format(time.RFC3339),
			to.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode barry request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from barry", slog.String("mpid", b.mpid))

	resp, err := do(b.client, "barry", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res barryResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("%w: failed to decode barry response: %w", ErrUpstreamUnavailable, err)
	}
	if res.Error != nil {
		return nil, barryErr(res.Error)
	}

	segs := make(types.Segments, 0, len(res.Result))
	for _, p := range res.Result {
		if p.Value == nil {
			return nil, fmt.Errorf("%w: barry price at %s has no value", ErrUpstreamUnavailable, p.Start.Format(time.RFC3339))
		}
		segs = append(segs, types.PriceSegment{
			ValidFrom: p.Start,
			ValidTo:   p.End,
			Value:     *p.Value,
		})
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched barry prices",
		slog.Int("count", len(segs)),
		slog.Time("from", from),
		slog.Time("to", to),
	)
	return finish("barry", segs, from, to, b.vat)
}

func barryErr(e *barryError) error {
	msg := strings.ToLower(e.Message)
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden") {
		return fmt.Errorf("%w: barry rejected the api key: %s", ErrUnauthorized, e.Message)
	}
	return fmt.Errorf("%w: barry returned error %d: %s", ErrUpstreamUnavailable, e.Code, e.Message)
}
