// Command seed creates a demo seller, buyer and listing for trying the
// escrow flow against the sandbox gateway.
package main

import (
	"context"
	"log/slog"
	"os"

	"tradepost/internal/config"
	"tradepost/internal/logging"
	"tradepost/internal/repositories"
)

func main() {
	cfg := config.Load()
	log := logging.Setup(logging.Options{Service: "tradepost-seed", Env: cfg.Env})

	if cfg.IsProduction() {
		log.Error("refusing to seed a production database")
		os.Exit(1)
	}

	db, err := repositories.InitDB(cfg)
	if err != nil {
		log.Error("database init failed", slog.Any("error", err))
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err == nil {
		defer sqlDB.Close()
	}

	data := repositories.SeedData{
		SellerID:        uint(config.GetIntEnv("SEED_SELLER_ID", 1)),
		SellerName:      config.GetEnv("SEED_SELLER_NAME", "Demo Seller"),
		SellerEmail:     config.GetEnv("SEED_SELLER_EMAIL", "seller@example.com"),
		PayoutAccountID: config.GetEnv("SEED_PAYOUT_ACCOUNT", "acct_sandbox_seller"),
		BuyerID:         uint(config.GetIntEnv("SEED_BUYER_ID", 2)),
		BuyerName:       config.GetEnv("SEED_BUYER_NAME", "Demo Buyer"),
		BuyerEmail:      config.GetEnv("SEED_BUYER_EMAIL", "buyer@example.com"),
		ListingID:       config.GetEnv("SEED_LISTING_ID", "lst_demo"),
		ListingTitle:    config.GetEnv("SEED_LISTING_TITLE", "Appraised film camera"),
		Amount:          int64(config.GetIntEnv("SEED_LISTING_AMOUNT", 12000)),
		Currency:        cfg.Currency,
	}

	created, err := repositories.Seed(context.Background(), db, data)
	if err != nil {
		log.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
	if !created {
		log.Info("listing already exists", slog.String("listing_id", data.ListingID))
		return
	}
	log.Info("demo data created",
		slog.String("listing_id", data.ListingID),
		slog.Uint64("seller_id", uint64(data.SellerID)),
		slog.Uint64("buyer_id", uint64(data.BuyerID)))
}
