package main

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
)

// codeRule is the discount granted to codes starting with a known prefix.
type codeRule struct {
	typ         coupon.Type
	amount      string
	description string
}

var codeRules = map[string]codeRule{
	"FIFTYOFF": {typ: coupon.TypePercent, amount: "50", description: "50% off entire order"},
	"SIXTYOFF": {typ: coupon.TypePercent, amount: "60", description: "60% off entire order"},
	"GNULINUX": {typ: coupon.TypePercent, amount: "15", description: "Open source discount: 15% off"},
	"HAPPYHRS": {typ: coupon.TypePercent, amount: "18", description: "Happy Hours: 18% off"},
	"OVER9000": {typ: coupon.TypeFixed, amount: "9", description: "9 off your order"},
	"FIVERNOW": {typ: coupon.TypeFixed, amount: "5", description: "5 off your order"},
}

var defaultRule = codeRule{
	typ:         coupon.TypePercent,
	amount:      "10",
	description: "Valid promo code: 10% off",
}

// ruleFor derives the coupon for an ingested code. Codes are single use.
func ruleFor(code string) coupon.Rule {
	code = coupon.NormalizeCode(code)

	r := defaultRule
	for prefix, cr := range codeRules {
		if strings.HasPrefix(code, prefix) {
			r = cr
			break
		}
	}

	return coupon.Rule{
		Code:        code,
		Type:        r.typ,
		Amount:      decimal.RequireFromString(r.amount),
		Scope:       coupon.ScopeAll,
		Description: r.description,
		UsageLimit:  1,
		Enabled:     true,
	}
}

func rulesFor(codes []string) []coupon.Rule {
	rules := make([]coupon.Rule, len(codes))
	for i, code := range codes {
		rules[i] = ruleFor(code)
	}
	return rules
}
