package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cs350892/market-server/internal/app"
	"github.com/cs350892/market-server/internal/catalog"
	"github.com/cs350892/market-server/internal/common"
	"github.com/cs350892/market-server/internal/config"
	"github.com/cs350892/market-server/internal/obs"
	"github.com/cs350892/market-server/internal/offer"
	"github.com/cs350892/market-server/internal/pricing"
	"github.com/cs350892/market-server/internal/repo"
)

func main() {
	adminEmail := flag.String("admin-email", envOr("SEED_ADMIN_EMAIL", "admin@market.local"), "admin account email")
	adminPassword := flag.String("admin-password", envOr("SEED_ADMIN_PASSWORD", "ChangeMe123!"), "admin account password")
	migrate := flag.Bool("migrate", true, "apply migrations before seeding")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.ObsLogFormat, cfg.ObsLogLevel, cfg.ObsServiceName, "seeder")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *migrate {
		if err := app.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}
	pool, err := app.OpenPostgres(ctx, cfg.DatabaseURL, cfg.ObsServiceName+"-seeder", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	queries := repo.New(pool)

	var cache *catalog.Cache
	if rdb, err := app.OpenRedis(ctx, cfg.RedisURL); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, catalog cache will not be bumped")
	} else {
		defer rdb.Close()
		cache = catalog.NewCache(rdb, cfg.CatalogCacheTTL)
	}

	if err := seedAdmin(ctx, queries, *adminEmail, *adminPassword, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed admin")
	}

	catalogSvc, err := catalog.NewService(catalog.ServiceConfig{
		Queries:           queries,
		Cache:             cache,
		Logger:            logger,
		DefaultTaxPercent: decimal.NewFromFloat(cfg.PricingDefaultTaxPercent),
		TierFallback:      pricing.ParseFallback(string(cfg.PricingTierFallback)),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("catalog service")
	}
	ids, err := seedProducts(ctx, catalogSvc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed products")
	}
	if err := seedOffer(ctx, &offer.Service{Q: queries}, ids, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed offer")
	}
	logger.Info().Msg("seeding completed")
}

func seedAdmin(ctx context.Context, q *repo.Queries, email, password string, log zerolog.Logger) error {
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return err
	}
	u, err := q.UpsertAdmin(ctx, repo.CreateUserParams{Name: "Administrator", Email: email, PasswordHash: hash})
	if err != nil {
		return err
	}
	log.Info().Str("user_id", repo.UUIDString(u.ID)).Str("email", u.Email).Msg("admin ready")
	return nil
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func upTo(n int) *int { return &n }

func sampleProducts() []catalog.ProductInput {
	return []catalog.ProductInput{
		{
			Name:        "Basmati Rice 1kg",
			Description: "Aged long-grain basmati.",
			Category:    "grocery",
			BaseRate:    decimal.RequireFromString("120"),
			Stock:       500,
			Tiers: []pricing.LegacyTier{
				{Range: "1-9", MinQuantity: 1, MaxQuantity: upTo(9), UnitPrice: dec("120")},
				{Range: "10-49", MinQuantity: 10, MaxQuantity: upTo(49), UnitPrice: dec("112")},
				{Range: "50+", MinQuantity: 50, UnitPrice: dec("105")},
			},
			PackSizes: []pricing.PackSize{
				{ID: "single", Name: "Single bag", Multiplier: 1},
				{ID: "case-10", Name: "Case of 10", Multiplier: 10},
			},
		},
		{
			Name:        "Cold Pressed Mustard Oil 1L",
			Description: "Kachi ghani mustard oil.",
			Category:    "grocery",
			BaseRate:    decimal.RequireFromString("210"),
			TaxPercent:  dec("5"),
			Stock:       200,
			Tiers: []pricing.LegacyTier{
				{Range: "1-11", MinQuantity: 1, MaxQuantity: upTo(11), DiscountPercentage: dec("0")},
				{Range: "12+", MinQuantity: 12, DiscountPercentage: dec("8")},
			},
			PackSizes: []pricing.PackSize{
				{ID: "bottle", Name: "Bottle", Multiplier: 1},
				{ID: "carton-12", Name: "Carton of 12", Multiplier: 12},
			},
		},
		{
			Name:        "Steel Water Bottle 750ml",
			Description: "Double-wall insulated bottle.",
			Category:    "home",
			BaseRate:    decimal.RequireFromString("449"),
			TaxPercent:  dec("18"),
			Stock:       8,
		},
	}
}

func seedProducts(ctx context.Context, svc *catalog.Service, log zerolog.Logger) ([]string, error) {
	var ids []string
	for _, in := range sampleProducts() {
		existing, err := svc.GetProduct(ctx, slug.Make(in.Name), true)
		if err == nil {
			ids = append(ids, existing.ID)
			log.Info().Str("slug", existing.Slug).Msg("product exists, skipped")
			continue
		}
		if !isStatus(err, http.StatusNotFound) {
			return nil, err
		}
		p, err := svc.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
		log.Info().Str("slug", p.Slug).Msg("product created")
	}
	return ids, nil
}

func seedOffer(ctx context.Context, svc *offer.Service, productIDs []string, log zerolog.Logger) error {
	limit := 100
	maxDiscount := decimal.RequireFromString("150")
	_, err := svc.Create(ctx, offer.Input{
		Code:              "WELCOME10",
		Description:       "10% off your first grocery order",
		DiscountType:      offer.KindPercentage,
		Discount:          decimal.RequireFromString("10"),
		MinPurchaseAmount: decimal.RequireFromString("500"),
		MaxDiscountAmount: &maxDiscount,
		Products:          productIDs[:min(2, len(productIDs))],
		Expiry:            time.Now().AddDate(0, 3, 0),
		UsageLimit:        &limit,
	})
	if isStatus(err, http.StatusConflict) {
		log.Info().Str("code", "WELCOME10").Msg("offer exists, skipped")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("code", "WELCOME10").Msg("offer created")
	return nil
}

func isStatus(err error, status int) bool {
	var appErr *common.AppError
	return errors.As(err, &appErr) && appErr.HTTPStatus == status
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
