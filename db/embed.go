// Package db embeds the storefront schema.
package db

import _ "embed"

// Schema creates every storefront table. Statements are idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
