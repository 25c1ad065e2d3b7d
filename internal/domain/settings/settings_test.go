package settings

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.True(t, decimal.NewFromInt(20).Equal(s.VATPercent))
	assert.Equal(t, "GBP", s.BaseCurrency)
	assert.True(t, s.SupportsCurrency("eur"))
	assert.False(t, s.SupportsCurrency("JPY"))
	assert.True(t, s.HasZone("UK"))
	assert.False(t, s.HasZone("MARS"))
	assert.True(t, s.HasZone("uk"))
	assert.True(t, decimal.RequireFromString("2.99").Equal(s.FlatShipping("UK")))
	assert.True(t, decimal.NewFromInt(50).Equal(s.FreeShippingThreshold("UK")))
	assert.True(t, s.FreeShippingThreshold("EU").IsZero())
}

func TestLookupZone(t *testing.T) {
	s := Default()
	s.Shipping["Intl"] = map[string]decimal.Decimal{"GBP": decimal.NewFromInt(20)}

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{in: "UK", want: "UK", wantOK: true},
		{in: "uk", want: "UK", wantOK: true},
		{in: "INTL", want: "Intl", wantOK: true},
		{in: "mars", wantOK: false},
		{in: "", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := s.LookupZone(tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestWithDefaults_KeepsSavedValues(t *testing.T) {
	saved := Settings{
		VATPercent: decimal.NewFromInt(5),
		StoreName:  "Acme",
	}

	s := saved.WithDefaults()

	assert.True(t, decimal.NewFromInt(5).Equal(s.VATPercent))
	assert.Equal(t, "Acme", s.StoreName)
	assert.Equal(t, DefaultBaseCurrency, s.BaseCurrency)
	assert.Equal(t, DefaultSupportEmail, s.SupportEmail)
	assert.NotEmpty(t, s.FX)
	assert.NotEmpty(t, s.Shipping)
}

func TestShippingTable(t *testing.T) {
	s := Settings{
		BaseCurrency:        "GBP",
		SupportedCurrencies: []string{"GBP", "EUR", "USD"},
		FX: map[string]decimal.Decimal{
			"GBP": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("1.15"),
		},
		Shipping: map[string]map[string]decimal.Decimal{
			"UK": {
				"GBP": decimal.RequireFromString("2.99"),
				"USD": decimal.RequireFromString("4"),
			},
		},
	}

	table := s.ShippingTable()
	require.Contains(t, table, "UK")

	uk := table["UK"]
	assert.True(t, decimal.RequireFromString("2.99").Equal(uk["GBP"]))
	// 2.99 * 1.15 = 3.4385
	assert.True(t, decimal.RequireFromString("3.44").Equal(uk["EUR"]), "EUR: %s", uk["EUR"])
	assert.True(t, decimal.NewFromInt(4).Equal(uk["USD"]))
}

func TestSender(t *testing.T) {
	s := Settings{StoreName: "Acme", SupportEmail: "help@acme.test"}
	assert.Equal(t, "Acme <help@acme.test>", s.Sender())
}
