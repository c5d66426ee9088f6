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
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const tibberQuery = `
query ChargeratePrices($resolution: PriceResolution!, $last: Int!) {
  viewer {
    homes {
      id
      currentSubscription {
        priceInfo(resolution: $resolution) {
          range(resolution: $resolution, last: $last) {
            nodes { total startsAt }
          }
          today { total startsAt }
          tomorrow { total startsAt }
        }
      }
    }
  }
}
`

// tibberAuthCodes are the GraphQL error codes Tibber uses for bad tokens.
var tibberAuthCodes = map[string]bool{
	"UNAUTHENTICATED": true,
	"UNAUTHORIZED":    true,
	"FORBIDDEN":       true,
}

// Tibber implements Provider for the Tibber GraphQL API.
type Tibber struct {
	url        string
	homeID     string
	resolution string
	step       time.Duration
	vat        decimal.Decimal
	currency   string
	query      string
	operation  string
	client     *http.Client
	now        func() time.Time
}

func newTibber(cfg TibberConfig, client *http.Client) (*Tibber, error) {
	doc, gqlErr := parser.ParseQuery(&ast.Source{Name: "tibber", Input: tibberQuery})
	if gqlErr != nil {
		return nil, fmt.Errorf("%w: invalid tibber query: %w", ErrConfiguration, gqlErr)
	}
	if len(doc.Operations) != 1 {
		return nil, fmt.Errorf("%w: tibber query must contain exactly one operation", ErrConfiguration)
	}

	step := time.Hour
	if cfg.Resolution == "QUARTER_HOURLY" {
		step = 15 * time.Minute
	}
	return &Tibber{
		url:        cfg.BaseURL,
		homeID:     cfg.HomeID,
		resolution: cfg.Resolution,
		step:       step,
		vat:        cfg.vat(),
		currency:   cfg.Currency,
		query:      tibberQuery,
		operation:  doc.Operations[0].Name,
		client:     common.WrapClient(client, common.WithBearerToken(cfg.AccessToken)),
		now:        time.Now,
	}, nil
}

// Currency returns the currency of the subscription.
func (t *Tibber) Currency() string {
	return t.currency
}

type tibberRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type tibberPrice struct {
	Total    *decimal.Decimal `json:"total"`
	StartsAt time.Time        `json:"startsAt"`
}

type tibberHome struct {
	ID                  string `json:"id"`
	CurrentSubscription *struct {
		PriceInfo struct {
			Range struct {
				Nodes []tibberPrice `json:"nodes"`
			} `json:"range"`
			Today    []tibberPrice `json:"today"`
			Tomorrow []tibberPrice `json:"tomorrow"`
		} `json:"priceInfo"`
	} `json:"currentSubscription"`
}

type tibberError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type tibberResponse struct {
	Data *struct {
		Viewer struct {
			Homes []tibberHome `json:"homes"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []tibberError `json:"errors"`
}

// slots returns how many price slots of size step lie between the slot
// containing from and now, which is what range(last:) counts back over.
func (t *Tibber) slots(from time.Time) int {
	n := int(t.now().Sub(from.Truncate(t.step))/t.step) + 1
	if n < 1 {
		n = 1
	}
	return n
}

// GetPriceData implements Provider. Past prices come from the range
// connection, the current and next day from today and tomorrow.
func (t *Tibber) GetPriceData(ctx context.Context, from, to time.Time) (types.Segments, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}

	body, err := json.Marshal(tibberRequest{
		Query:         t.query,
		OperationName: t.operation,
		Variables: map[string]any{
			"resolution": t.resolution,
			"last":       t.slots(from),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode tibber request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from tibber", slog.String("url", t.url))

	resp, err := do(t.client, "tibber", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res tibberResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode tibber response", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to decode tibber response: %w", ErrUpstreamUnavailable, err)
	}
	if len(res.Errors) > 0 {
		msgs := make([]string, len(res.Errors))
		unauthorized := false
		for i, e := range res.Errors {
			msgs[i] = e.Message
			if tibberAuthCodes[strings.ToUpper(e.Extensions.Code)] {
				unauthorized = true
			}
		}
		if unauthorized {
			return nil, fmt.Errorf("%w: tibber rejected the access token: %s", ErrUnauthorized, strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("%w: tibber returned errors: %s", ErrUpstreamUnavailable, strings.Join(msgs, "; "))
	}
	if res.Data == nil {
		return nil, fmt.Errorf("%w: tibber returned no data", ErrUpstreamUnavailable)
	}

	home, err := t.pickHome(res.Data.Viewer.Homes)
	if err != nil {
		return nil, err
	}

	info := home.CurrentSubscription.PriceInfo
	seen := make(map[int64]bool)
	var segs types.Segments
	for _, list := range [][]tibberPrice{info.Range.Nodes, info.Today, info.Tomorrow} {
		for _, p := range list {
			if p.Total == nil {
				// tomorrow is published with empty totals until the auction clears
				continue
			}
			key := p.StartsAt.Unix()
			if seen[key] {
				continue
			}
			seen[key] = true
			segs = append(segs, types.PriceSegment{
				ValidFrom: p.StartsAt,
				ValidTo:   p.StartsAt.Add(t.step),
				Value:     *p.Total,
			})
		}
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched tibber prices",
		slog.Int("count", len(segs)),
		slog.String("home", home.ID),
		slog.Time("from", from),
		slog.Time("to", to),
	)
	return finish("tibber", segs, from, to, t.vat)
}

func (t *Tibber) pickHome(homes []tibberHome) (tibberHome, error) {
	for _, h := range homes {
		if t.homeID != "" {
			if h.ID == t.homeID {
				if h.CurrentSubscription == nil {
					return tibberHome{}, fmt.Errorf("%w: tibber home %s has no active subscription", ErrConfiguration, h.ID)
				}
				return h, nil
			}
			continue
		}
		if h.CurrentSubscription != nil {
			return h, nil
		}
	}
	if t.homeID != "" {
		return tibberHome{}, fmt.Errorf("%w: tibber home %s not found", ErrConfiguration, t.homeID)
	}
	return tibberHome{}, fmt.Errorf("%w: no tibber home has an active subscription", ErrConfiguration)
}
