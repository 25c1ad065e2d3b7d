package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/settings"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/storage/postgres"
)

//go:embed fixture.json
var defaultFixture []byte

type fixture struct {
	Settings  *settings.Settings  `json:"settings"`
	Products  []product.Product   `json:"products"`
	Customers []customer.Customer `json:"customers"`
	APIKeys   []apiKeyJSON        `json:"apiKeys"`
	Coupons   []couponJSON        `json:"coupons"`
}

type apiKeyJSON struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CustomerID string `json:"customerId"`
	Key        string `json:"key"`
}

type couponJSON struct {
	Code        string          `json:"code"`
	Type        coupon.Type     `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Scope       coupon.Scope    `json:"scope"`
	ProductIDs  []string        `json:"productIds"`
	Description string          `json:"description"`
	ValidFrom   *time.Time      `json:"validFrom"`
	ValidTo     *time.Time      `json:"validTo"`
	UsageLimit  int             `json:"usageLimit"`
	Disabled    bool            `json:"disabled"`
}

func (c couponJSON) rule() coupon.Rule {
	return coupon.Rule{
		Code:        c.Code,
		Type:        c.Type,
		Amount:      c.Amount,
		Scope:       c.Scope,
		ProductIDs:  c.ProductIDs,
		Description: c.Description,
		ValidFrom:   c.ValidFrom,
		ValidTo:     c.ValidTo,
		UsageLimit:  c.UsageLimit,
		Enabled:     !c.Disabled,
	}
}

func main() {
	var (
		databaseURL  string
		fixtureFile  string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&fixtureFile, "fixture", "", "path to a fixture JSON file (defaults to the built-in demo data)")
	flag.StringVar(&adminKey, "api-key", "", "admin API key to seed (or STOREFRONT_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STOREFRONT_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("STOREFRONT_DATABASE_URL")
	}
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("STOREFRONT_SEED_API_KEY")
	}
	if adminKey == "" {
		slog.Error("admin API key is required: set --api-key or STOREFRONT_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("STOREFRONT_API_KEY_PEPPER")
	}
	if apiKeyPepper == "" {
		slog.Error("API key pepper is required: set --api-key-pepper or STOREFRONT_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, fixtureFile, adminKey, []byte(apiKeyPepper)); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, fixtureFile, adminKey string, pepper []byte) error {
	fx, err := loadFixture(fixtureFile)
	if err != nil {
		return errors.Wrap(err, "load fixture")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := postgres.NewSeeder(pool)

	if fx.Settings != nil {
		if err := postgres.NewSettingsRepository(pool).Save(ctx, fx.Settings.WithDefaults()); err != nil {
			return errors.Wrap(err, "save settings")
		}
		slog.Info("saved settings", slog.String("store", fx.Settings.StoreName))
	}

	for _, p := range fx.Products {
		if err := seeder.UpsertProduct(ctx, p); err != nil {
			return err
		}
		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.String("title", p.Title),
			slog.Int("variants", len(p.Variants)),
		)
	}

	for _, c := range fx.Customers {
		if err := seeder.UpsertCustomer(ctx, c); err != nil {
			return err
		}
		slog.Info("upserted customer", slog.String("id", c.ID), slog.String("role", string(c.Role)))
	}

	keys := append([]apiKeyJSON{{
		ID:         "default",
		Name:       "Default admin key",
		CustomerID: "admin",
		Key:        adminKey,
	}}, fx.APIKeys...)
	for _, k := range keys {
		if err := seeder.UpsertAPIKey(ctx, k.ID, handler.HashAPIKey(pepper, k.Key), k.Name, k.CustomerID); err != nil {
			return err
		}
		slog.Info("upserted API key", slog.String("id", k.ID), slog.String("customer", k.CustomerID))
	}

	for _, c := range fx.Coupons {
		if err := seeder.UpsertCoupon(ctx, c.rule()); err != nil {
			return err
		}
		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func loadFixture(path string) (*fixture, error) {
	data := defaultFixture
	if path != "" {
		slog.Info("reading fixture file", slog.String("path", path))

		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, errors.Wrap(err, "read fixture file")
		}
	}

	var fx fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, errors.Wrap(err, "parse fixture")
	}
	return &fx, nil
}
