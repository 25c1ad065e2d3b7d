package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/product"
)

func TestLoadFixture_Embedded(t *testing.T) {
	fx, err := loadFixture("")
	require.NoError(t, err)

	require.NotNil(t, fx.Settings)
	assert.Equal(t, "GBP", fx.Settings.BaseCurrency)
	require.NotEmpty(t, fx.Products)

	skus := map[string]bool{}
	for _, p := range fx.Products {
		assert.NotEmpty(t, p.Variants, p.ID)
		assert.Contains(t, []product.Status{product.StatusDraft, product.StatusPublished}, p.Status, p.ID)
		for _, v := range p.Variants {
			assert.False(t, skus[v.SKU], "duplicate sku %s", v.SKU)
			skus[v.SKU] = true
			assert.GreaterOrEqual(t, v.Stock, 0)
		}
	}

	customers := map[string]bool{}
	for _, c := range fx.Customers {
		customers[c.ID] = true
	}
	assert.True(t, customers["admin"], "admin account backs the default key")
	for _, k := range fx.APIKeys {
		assert.True(t, customers[k.CustomerID], "key %s references unknown customer", k.ID)
		assert.NotEmpty(t, k.Key)
	}

	for _, c := range fx.Coupons {
		r := c.rule()
		assert.True(t, r.Enabled, c.Code)
		assert.Contains(t, []coupon.Type{coupon.TypePercent, coupon.TypeFixed}, r.Type, c.Code)
	}
}

func TestLoadFixture_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"coupons": [{"code": "OFF", "type": "fixed", "amount": "2.50", "disabled": true}]
	}`), 0o600))

	fx, err := loadFixture(path)
	require.NoError(t, err)
	assert.Nil(t, fx.Settings)
	require.Len(t, fx.Coupons, 1)

	r := fx.Coupons[0].rule()
	assert.False(t, r.Enabled)
	assert.Equal(t, "2.5", r.Amount.String())
}

func TestLoadFixture_Errors(t *testing.T) {
	_, err := loadFixture(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = loadFixture(path)
	require.Error(t, err)
}
