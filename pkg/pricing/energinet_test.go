package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func energinetConfig(baseURL, currency string) Config {
	return Config{
		Provider: ProviderEnerginet,
		Energinet: EnerginetConfig{
			Common:  Common{Currency: currency, VAT: 1},
			BaseURL: baseURL,
			Region:  "DK1",
		},
	}
}

const energinetBody = `{
	"total": 2,
	"dataset": "Elspotprices",
	"records": [
		{"HourUTC": "2024-01-01T00:00:00", "HourDK": "2024-01-01T01:00:00", "PriceArea": "DK1", "SpotPriceDKK": 1000, "SpotPriceEUR": 134.1},
		{"HourUTC": "2024-01-01T01:00:00", "HourDK": "2024-01-01T02:00:00", "PriceArea": "DK1", "SpotPriceDKK": 2000, "SpotPriceEUR": 268.2}
	]
}`

func energinetServer(t *testing.T, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Elspotprices" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Contains(t, r.Header.Get("User-Agent"), "chargerate/")
		assert.Equal(t, `{"PriceArea":["DK1"]}`, r.URL.Query().Get("filter"))
		assert.Equal(t, "2024-01-01T00:00", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-01-01T02:00", r.URL.Query().Get("end"))
		_, err := w.Write([]byte(body))
		if err != nil {
			panic(http.ErrAbortHandler)
		}
	}))
}

func TestEnerginet(t *testing.T) {
	ctx := context.Background()
	from := mustTime(t, "2024-01-01T00:00:00Z")
	to := mustTime(t, "2024-01-01T02:00:00Z")

	t.Run("dkk", func(t *testing.T) {
		api := energinetServer(t, energinetBody)
		defer api.Close()

		p, err := New(energinetConfig(api.URL, "DKK"), api.Client())
		require.NoError(t, err)
		segs, err := p.GetPriceData(ctx, from, to)
		require.NoError(t, err)
		requireCovers(t, segs, from, to)
		assert.Equal(t, []string{"1", "2"}, values(segs))
		assert.Equal(t, "DKK", p.(*Energinet).Currency())
	})

	t.Run("eur", func(t *testing.T) {
		api := energinetServer(t, energinetBody)
		defer api.Close()

		p, err := New(energinetConfig(api.URL, "EUR"), api.Client())
		require.NoError(t, err)
		segs, err := p.GetPriceData(ctx, from, to)
		require.NoError(t, err)
		assert.Equal(t, []string{"0.1341", "0.2682"}, values(segs))
	})

	t.Run("fixed tariffs are added before vat", func(t *testing.T) {
		api := energinetServer(t, energinetBody)
		defer api.Close()

		cfg := energinetConfig(api.URL, "DKK")
		cfg.Energinet.VAT = 1.25
		cfg.Energinet.FixedPrices = &FixedPricesConfig{
			TimeZone: "UTC",
			Prices:   []string{"00:00-00:30=0.1", "00:30-00:00=0.2"},
		}
		p, err := New(cfg, api.Client())
		require.NoError(t, err)
		segs, err := p.GetPriceData(ctx, from, to)
		require.NoError(t, err)
		require.Len(t, segs, 3)
		requireCovers(t, segs, from, to)
		assert.True(t, segs[1].ValidFrom.Equal(mustTime(t, "2024-01-01T00:30:00Z")))
		assert.Equal(t, []string{"1.375", "1.5", "2.75"}, values(segs))
	})

	t.Run("missing price", func(t *testing.T) {
		api := energinetServer(t, `{"records": [
			{"HourUTC": "2024-01-01T00:00:00", "PriceArea": "DK1", "SpotPriceDKK": null, "SpotPriceEUR": null},
			{"HourUTC": "2024-01-01T01:00:00", "PriceArea": "DK1", "SpotPriceDKK": 1, "SpotPriceEUR": 1}
		]}`)
		defer api.Close()

		p, err := New(energinetConfig(api.URL, "DKK"), api.Client())
		require.NoError(t, err)
		_, err = p.GetPriceData(ctx, from, to)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("bad timestamp", func(t *testing.T) {
		api := energinetServer(t, `{"records": [{"HourUTC": "yesterday", "SpotPriceDKK": 1}]}`)
		defer api.Close()

		p, err := New(energinetConfig(api.URL, "DKK"), api.Client())
		require.NoError(t, err)
		_, err = p.GetPriceData(ctx, from, to)
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("unsupported currency", func(t *testing.T) {
		_, err := New(energinetConfig("https://example.com/", "GBP"), nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})

	t.Run("invalid fixed tariffs", func(t *testing.T) {
		cfg := energinetConfig("https://example.com/", "DKK")
		cfg.Energinet.FixedPrices = &FixedPricesConfig{
			TimeZone: "UTC",
			Prices:   []string{"00:00-06:00=0.1"},
		}
		_, err := New(cfg, nil)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}
