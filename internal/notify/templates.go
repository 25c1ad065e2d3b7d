package notify

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/pricing"
)

//go:embed templates/*.html
var templateFS embed.FS

var currencySymbols = map[string]string{
	"GBP": "£",
	"EUR": "€",
	"USD": "$",
}

// money renders an amount with its currency symbol, or the ISO code when
// no symbol is known.
func money(currency string, amount decimal.Decimal) string {
	s := amount.StringFixed(pricing.Places)
	if sym, ok := currencySymbols[currency]; ok {
		return sym + s
	}
	return s + " " + currency
}

type emailData struct {
	StoreName    string
	SupportEmail string
	BaseCurrency string
	Order        *order.Order
}

type templates struct {
	confirmation *template.Template
	shipped      *template.Template
	staff        *template.Template
}

func parseTemplates() (*templates, error) {
	parse := func(name string) (*template.Template, error) {
		t, err := template.New(name).
			Funcs(template.FuncMap{"money": money}).
			ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", name)
		}
		return t, nil
	}

	var (
		t   templates
		err error
	)
	if t.confirmation, err = parse("confirmation.html"); err != nil {
		return nil, err
	}
	if t.shipped, err = parse("shipped.html"); err != nil {
		return nil, err
	}
	if t.staff, err = parse("staff.html"); err != nil {
		return nil, err
	}
	return &t, nil
}

func render(t *template.Template, data emailData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "render %s", t.Name())
	}
	return buf.String(), nil
}
