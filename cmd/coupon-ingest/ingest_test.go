package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/coupon"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)

	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func testIngester(minFiles int) *ingester {
	ing := defaultIngester()
	ing.capacity = 1000
	ing.minFiles = minFiles
	return ing
}

func TestIngester_ValidCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "couponbase1.gz", "HAPPYHRS01", "ONLYFILE1", "SHORT", "SHAREDALL1"),
		writeGz(t, dir, "couponbase2.gz", "HAPPYHRS01", "ONLYFILE2", "SHAREDALL1", "WAYTOOLONGCODE"),
		writeGz(t, dir, "couponbase3.gz", "SHAREDALL1", "ONLYFILE3", "SHORT"),
	}

	codes, err := testIngester(2).validCodes(t.Context(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{"HAPPYHRS01", "SHAREDALL1"}, codes)

	codes, err = testIngester(3).validCodes(t.Context(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{"SHAREDALL1"}, codes)
}

func TestIngester_MissingFile(t *testing.T) {
	_, err := testIngester(2).validCodes(t.Context(), []string{
		filepath.Join(t.TempDir(), "missing.gz"),
	})
	require.Error(t, err)
}

func TestIngester_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.gz")
	require.NoError(t, os.WriteFile(path, []byte("HAPPYHRS01\n"), 0o600))

	_, err := testIngester(2).validCodes(t.Context(), []string{path, path})
	require.Error(t, err)
}

func TestRuleFor(t *testing.T) {
	tests := []struct {
		code   string
		typ    coupon.Type
		amount string
	}{
		{code: "happyhrs01", typ: coupon.TypePercent, amount: "18"},
		{code: "OVER9000XY", typ: coupon.TypeFixed, amount: "9"},
		{code: "SOMETHING1", typ: coupon.TypePercent, amount: "10"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			r := ruleFor(tt.code)
			assert.Equal(t, coupon.NormalizeCode(tt.code), r.Code)
			assert.Equal(t, tt.typ, r.Type)
			assert.Equal(t, tt.amount, r.Amount.String())
			assert.Equal(t, coupon.ScopeAll, r.Scope)
			assert.Equal(t, 1, r.UsageLimit)
			assert.True(t, r.Enabled)
		})
	}
}
