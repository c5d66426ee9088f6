package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/chargerate/pkg/common"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/shopspring/decimal"
)

// ProviderID identifies a supported price source.
type ProviderID string

const (
	ProviderOctopus   ProviderID = "octopus"
	ProviderTibber    ProviderID = "tibber"
	ProviderFixed     ProviderID = "fixed"
	ProviderAwattar   ProviderID = "awattar"
	ProviderEnerginet ProviderID = "energinet"
	ProviderBarry     ProviderID = "barry"
)

// ProviderIDs lists every recognized provider.
var ProviderIDs = []ProviderID{
	ProviderOctopus,
	ProviderTibber,
	ProviderFixed,
	ProviderAwattar,
	ProviderEnerginet,
	ProviderBarry,
}

// Common holds the settings shared by every provider.
type Common struct {
	Currency string  `validate:"required,iso4217"`
	VAT      float64 `validate:"finite,gt=0"`
}

func (c Common) vat() decimal.Decimal {
	return decimal.NewFromFloat(c.VAT)
}

// OctopusConfig configures the Octopus Energy standard unit rates API.
type OctopusConfig struct {
	Common
	BaseURL     string `validate:"required,url"`
	ProductCode string `validate:"required"`
	TariffCode  string `validate:"required"`
}

// TibberConfig configures the Tibber GraphQL API.
type TibberConfig struct {
	Common
	BaseURL     string `validate:"required,url"`
	AccessToken string `validate:"required"`
	HomeID      string
	Resolution  string `validate:"required,oneof=HOURLY QUARTER_HOURLY"`
}

// FixedPricesConfig is a recurring daily tariff table.
type FixedPricesConfig struct {
	TimeZone string   `validate:"required"`
	Prices   []string `validate:"required,min=1"`
}

// FixedConfig configures the fixed daily schedule provider.
type FixedConfig struct {
	Common
	FixedPricesConfig
}

// AwattarConfig configures the aWATTar day-ahead market API.
type AwattarConfig struct {
	Common
	BaseURL string `validate:"required,url"`
}

// EnerginetConfig configures the Energi Data Service day-ahead spot API.
// FixedPrices, when set, is added on top of the spot price before VAT.
type EnerginetConfig struct {
	Common
	BaseURL     string `validate:"required,url"`
	Region      string `validate:"required,oneof=DK1 DK2"`
	FixedPrices *FixedPricesConfig
}

// BarryConfig configures the Barry JSON-RPC price API. MPID is the metering
// point whose total price (spot plus tariffs) is fetched.
type BarryConfig struct {
	Common
	BaseURL string `validate:"required,url"`
	APIKey  string `validate:"required"`
	MPID    string `validate:"required"`
}

// Config selects and configures one provider.
type Config struct {
	Provider  ProviderID
	Octopus   OctopusConfig
	Tibber    TibberConfig
	Fixed     FixedConfig
	Awattar   AwattarConfig
	Energinet EnerginetConfig
	Barry     BarryConfig
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// gt=0 alone lets +Inf through
	if err := v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsInf(f, 0) && !math.IsNaN(f)
	}); err != nil {
		panic(err)
	}
	return v
}

func validateConfig(id ProviderID, cfg any) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: invalid %s config: %w", ErrConfiguration, id, err)
	}
	return nil
}

// New builds the provider selected by cfg.Provider. client is used for every
// outgoing request; providers that authenticate wrap it with their
// credentials.
func New(cfg Config, client *http.Client) (Provider, error) {
	if client == nil {
		client = common.HTTPClient(time.Minute)
	} else {
		client = common.WrapClient(client)
	}
	switch cfg.Provider {
	case ProviderOctopus:
		if err := validateConfig(cfg.Provider, cfg.Octopus); err != nil {
			return nil, err
		}
		return newOctopus(cfg.Octopus, client), nil
	case ProviderTibber:
		if err := validateConfig(cfg.Provider, cfg.Tibber); err != nil {
			return nil, err
		}
		return newTibber(cfg.Tibber, client)
	case ProviderFixed:
		if err := validateConfig(cfg.Provider, cfg.Fixed); err != nil {
			return nil, err
		}
		return newFixed(cfg.Fixed)
	case ProviderAwattar:
		if err := validateConfig(cfg.Provider, cfg.Awattar); err != nil {
			return nil, err
		}
		return newAwattar(cfg.Awattar, client), nil
	case ProviderEnerginet:
		if err := validateConfig(cfg.Provider, cfg.Energinet); err != nil {
			return nil, err
		}
		return newEnerginet(cfg.Energinet, client)
	case ProviderBarry:
		if err := validateConfig(cfg.Provider, cfg.Barry); err != nil {
			return nil, err
		}
		return newBarry(cfg.Barry, client), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (available: %s)", ErrConfiguration, cfg.Provider, availableProviders())
	}
}

func availableProviders() string {
	ids := make([]string, len(ProviderIDs))
	for i, id := range ProviderIDs {
		ids[i] = string(id)
	}
	return strings.Join(ids, ", ")
}

// Selected is the provider chosen by flags. It is usable once
// lflag.Configure has run.
type Selected struct {
	Provider
	id       ProviderID
	currency string
}

// ID returns the identifier of the selected provider.
func (s *Selected) ID() ProviderID {
	return s.id
}

// Currency returns the currency prices are denominated in.
func (s *Selected) Currency() string {
	return s.currency
}

// Configured registers the provider flags and builds the selected provider
// when flags are parsed. An invalid configuration exits the process before
// anything is scheduled.
func Configured() *Selected {
	s := &Selected{}

	provider := lflag.String("provider", string(ProviderOctopus), "Price provider to use (available: "+availableProviders()+")")
	timeout := lflag.Duration("provider-timeout", time.Minute, "Timeout for requests to the price provider")

	octopusURL := lflag.String("octopus-base-url", "https://api.octopus.energy/v1/", "Base URL for the Octopus Energy API")
	octopusProduct := lflag.String("octopus-product-code", "", "Octopus product code (e.g. AGILE-FLEX-22-11-25)")
	octopusTariff := lflag.String("octopus-tariff-code", "", "Octopus tariff code (e.g. E-1R-AGILE-FLEX-22-11-25-C)")
	octopusCurrency := lflag.String("octopus-currency", "GBP", "Currency of Octopus prices")
	octopusVAT := lflag.String("octopus-vat", "1", "Multiplier applied to Octopus prices")

	tibberURL := lflag.String("tibber-base-url", "https://api.tibber.com/v1-beta/gql", "URL for the Tibber GraphQL API")
	tibberToken := lflag.String("tibber-access-token", "", "Tibber personal access token")
	tibberHome := lflag.String("tibber-home-id", "", "Tibber home ID (defaults to the first home with a subscription)")
	tibberResolution := lflag.String("tibber-resolution", "HOURLY", "Tibber price resolution (HOURLY or QUARTER_HOURLY)")
	tibberCurrency := lflag.String("tibber-currency", "EUR", "Currency of Tibber prices")
	tibberVAT := lflag.String("tibber-vat", "1", "Multiplier applied to Tibber prices")

	fixedZone := lflag.String("fixed-time-zone", "", "IANA time zone the fixed prices are in")
	fixedPrices := lflag.String("fixed-prices", "", "Comma-delimited list of HH:MM-HH:MM=price tariffs that cover the whole day")
	fixedCurrency := lflag.String("fixed-currency", "EUR", "Currency of the fixed prices")
	fixedVAT := lflag.String("fixed-vat", "1", "Multiplier applied to the fixed prices")

	awattarURL := lflag.String("awattar-base-url", "https://api.awattar.de/v1/", "Base URL for the aWATTar API")
	awattarVAT := lflag.String("awattar-vat", "1", "Multiplier applied to aWATTar prices")

	energinetURL := lflag.String("energinet-base-url", "https://api.energidataservice.dk/dataset/", "Base URL for the Energi Data Service API")
	energinetRegion := lflag.String("energinet-region", "DK1", "Energinet price area (DK1 or DK2)")
	energinetCurrency := lflag.String("energinet-currency", "DKK", "Energinet currency (DKK or EUR)")
	energinetVAT := lflag.String("energinet-vat", "1.25", "Multiplier applied to Energinet prices")
	energinetZone := lflag.String("energinet-fixed-time-zone", "", "IANA time zone of the fixed tariffs added to Energinet prices")
	energinetPrices := lflag.String("energinet-fixed-prices", "", "Comma-delimited list of HH:MM-HH:MM=price tariffs added to Energinet prices")

	barryURL := lflag.String("barry-base-url", "https://jsonrpc.barry.energy/json-rpc", "URL for the Barry JSON-RPC API")
	barryKey := lflag.String("barry-api-key", "", "Barry API key")
	barryMPID := lflag.String("barry-mpid", "", "Barry metering point ID")
	barryCurrency := lflag.String("barry-currency", "DKK", "Currency of Barry prices")
	barryVAT := lflag.String("barry-vat", "1", "Multiplier applied to Barry prices")

	lflag.Do(func() {
		ctx := context.Background()
		fail := func(err error) {
			log.Ctx(ctx).ErrorContext(ctx, "invalid price provider configuration", slog.String("provider", *provider), slog.Any("error", err))
			os.Exit(1)
		}
		vat := func(name, v string) float64 {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				fail(fmt.Errorf("%w: %s must be a number: %w", ErrConfiguration, name, err))
			}
			return f
		}

		cfg := Config{
			Provider: ProviderID(strings.ToLower(strings.TrimSpace(*provider))),
			Octopus: OctopusConfig{
				Common:      Common{Currency: *octopusCurrency, VAT: vat("octopus-vat", *octopusVAT)},
				BaseURL:     *octopusURL,
				ProductCode: *octopusProduct,
				TariffCode:  *octopusTariff,
			},
			Tibber: TibberConfig{
				Common:      Common{Currency: *tibberCurrency, VAT: vat("tibber-vat", *tibberVAT)},
				BaseURL:     *tibberURL,
				AccessToken: *tibberToken,
				HomeID:      *tibberHome,
				Resolution:  *tibberResolution,
			},
			Fixed: FixedConfig{
				Common: Common{Currency: *fixedCurrency, VAT: vat("fixed-vat", *fixedVAT)},
				FixedPricesConfig: FixedPricesConfig{
					TimeZone: *fixedZone,
					Prices:   splitList(*fixedPrices),
				},
			},
			Awattar: AwattarConfig{
				Common:  Common{Currency: "EUR", VAT: vat("awattar-vat", *awattarVAT)},
				BaseURL: *awattarURL,
			},
			Energinet: EnerginetConfig{
				Common:  Common{Currency: *energinetCurrency, VAT: vat("energinet-vat", *energinetVAT)},
				BaseURL: *energinetURL,
				Region:  *energinetRegion,
			},
			Barry: BarryConfig{
				Common:  Common{Currency: *barryCurrency, VAT: vat("barry-vat", *barryVAT)},
				BaseURL: *barryURL,
				APIKey:  *barryKey,
				MPID:    *barryMPID,
			},
		}
		if rows := splitList(*energinetPrices); len(rows) > 0 {
			cfg.Energinet.FixedPrices = &FixedPricesConfig{
				TimeZone: *energinetZone,
				Prices:   rows,
			}
		}

		p, err := New(cfg, common.HTTPClient(*timeout))
		if err != nil {
			fail(err)
		}
		s.Provider = p
		s.id = cfg.Provider
		if c, ok := p.(interface{ Currency() string }); ok {
			s.currency = c.Currency()
		}
		log.Ctx(ctx).InfoContext(ctx, "using price provider", slog.String("provider", string(s.id)), slog.String("currency", s.currency))
	})

	return s
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
