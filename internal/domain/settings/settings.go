// Package settings defines the store-wide configuration read at checkout.
package settings

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Store defaults applied when no settings have been saved yet.
const (
	DefaultBaseCurrency = "GBP"
	DefaultZone         = "UK"
	DefaultStoreName    = "My Store"
	DefaultSupportEmail = "no-reply@example.com"
)

// Settings is the single store configuration document. Values are treated
// as read-only by the order engine: load once, pass by value.
type Settings struct {
	VATPercent          decimal.Decimal                       `json:"vatPercent"`
	BaseCurrency        string                                `json:"baseCurrency"`
	SupportedCurrencies []string                              `json:"supportedCurrencies"`
	FX                  map[string]decimal.Decimal            `json:"fx"`
	Shipping            map[string]map[string]decimal.Decimal `json:"shipping"`
	FreeShippingOver    map[string]decimal.Decimal            `json:"freeShippingOver"`
	StoreName           string                                `json:"storeName"`
	SupportEmail        string                                `json:"supportEmail"`
	StaffEmail          string                                `json:"staffEmail,omitempty"`
}

// Provider supplies the current settings.
type Provider interface {
	Get(ctx context.Context) (Settings, error)
}

// Repository persists the settings document.
type Repository interface {
	Provider
	Save(ctx context.Context, s Settings) error
}

// Default returns the settings used before an administrator saves any.
func Default() Settings {
	return Settings{
		VATPercent:          decimal.NewFromInt(20),
		BaseCurrency:        DefaultBaseCurrency,
		SupportedCurrencies: []string{"GBP", "EUR", "USD"},
		FX: map[string]decimal.Decimal{
			"GBP": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("1.15"),
			"USD": decimal.RequireFromString("1.28"),
		},
		Shipping: map[string]map[string]decimal.Decimal{
			"UK":  {"GBP": decimal.RequireFromString("2.99")},
			"EU":  {"GBP": decimal.RequireFromString("7.99")},
			"USA": {"GBP": decimal.RequireFromString("12.99")},
		},
		FreeShippingOver: map[string]decimal.Decimal{
			"UK": decimal.NewFromInt(50),
		},
		StoreName:    DefaultStoreName,
		SupportEmail: DefaultSupportEmail,
	}
}

// WithDefaults fills unset fields from Default.
func (s Settings) WithDefaults() Settings {
	def := Default()
	if s.BaseCurrency == "" {
		s.BaseCurrency = def.BaseCurrency
	}
	if len(s.SupportedCurrencies) == 0 {
		s.SupportedCurrencies = def.SupportedCurrencies
	}
	if len(s.FX) == 0 {
		s.FX = def.FX
	}
	if s.Shipping == nil {
		s.Shipping = def.Shipping
	}
	if s.StoreName == "" {
		s.StoreName = def.StoreName
	}
	if s.SupportEmail == "" {
		s.SupportEmail = def.SupportEmail
	}
	return s
}

// SupportsCurrency reports whether code is accepted for display totals.
func (s Settings) SupportsCurrency(code string) bool {
	for _, c := range s.SupportedCurrencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// HasZone reports whether a shipping rate table exists for zone.
func (s Settings) HasZone(zone string) bool {
	_, ok := s.LookupZone(zone)
	return ok
}

// LookupZone returns the configured zone key matching zone, ignoring case.
func (s Settings) LookupZone(zone string) (string, bool) {
	if _, ok := s.Shipping[zone]; ok {
		return zone, true
	}
	for key := range s.Shipping {
		if strings.EqualFold(key, zone) {
			return key, true
		}
	}
	return "", false
}

// FlatShipping returns the zone's flat shipping rate in the base currency.
// If only other currencies are configured the base amount is zero.
func (s Settings) FlatShipping(zone string) decimal.Decimal {
	return s.Shipping[zone][s.BaseCurrency]
}

// FreeShippingThreshold returns the inc-VAT subtotal from which zone ships
// free. Zero means the zone has no free-shipping rule.
func (s Settings) FreeShippingThreshold(zone string) decimal.Decimal {
	return s.FreeShippingOver[zone]
}

// ShippingTable returns shipping per zone per supported currency. Amounts not
// configured explicitly are derived from the base amount at the fx rate.
func (s Settings) ShippingTable() map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal, len(s.Shipping))
	for zone, rates := range s.Shipping {
		base := rates[s.BaseCurrency]
		row := make(map[string]decimal.Decimal, len(s.SupportedCurrencies))
		for _, cur := range s.SupportedCurrencies {
			if explicit, ok := rates[cur]; ok {
				row[cur] = explicit.Round(2)
				continue
			}
			rate, ok := s.FX[cur]
			if !ok {
				rate = decimal.NewFromInt(1)
			}
			row[cur] = base.Mul(rate).Round(2)
		}
		out[zone] = row
	}
	return out
}

// Sender formats the From header for outgoing store mail.
func (s Settings) Sender() string {
	return s.StoreName + " <" + s.SupportEmail + ">"
}
