package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/emberlog/service_layer/internal/database"
	"github.com/emberlog/service_layer/internal/domain/smoking"
	smokelogsupabase "github.com/emberlog/service_layer/services/smokelog/supabase"
)

func main() {
	var (
		envFile  = flag.String("env", ".env", "Path to .env with SUPABASE_URL and SUPABASE_SERVICE_KEY")
		userID   = flag.String("user", "", "User id to seed (random UUID when empty)")
		interval = flag.Int("interval", 60, "Interval lock minutes; 0 leaves the lock disabled")
		units    = flag.Int("units", 20, "Units in the seeded supply")
		price    = flag.String("price", "25.00", "Price of the seeded supply")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}

	unitPrice, err := decimal.NewFromString(*price)
	if err != nil {
		log.Fatalf("parse price %q: %v", *price, err)
	}
	user := *userID
	if user == "" {
		user = uuid.NewString()
	}

	client, err := database.NewClient(database.Config{
		URL:        os.Getenv("SUPABASE_URL"),
		ServiceKey: os.Getenv("SUPABASE_SERVICE_KEY"),
		Timeout:    15 * time.Second,
	})
	if err != nil {
		log.Fatalf("supabase client: %v", err)
	}
	repo := smokelogsupabase.NewRepository(database.NewRepository(client))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := smoking.IntervalConfig{}
	if *interval > 0 {
		cfg.Enabled = true
		cfg.IntervalMinutes = interval
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("interval settings: %v", err)
	}
	if _, err := repo.SaveIntervalConfig(ctx, user, cfg); err != nil {
		log.Fatalf("save interval settings: %v", err)
	}

	supply := smoking.Supply{
		UserID:         user,
		TotalUnits:     *units,
		RemainingUnits: *units,
		UnitPrice:      unitPrice,
	}
	if err := supply.Validate(); err != nil {
		log.Fatalf("supply: %v", err)
	}
	created, err := repo.CreateSupply(ctx, supply)
	if err != nil {
		log.Fatalf("create supply: %v", err)
	}

	log.Printf("seeded user %s: lock enabled=%v interval=%d supply=%s (%d units, unit cost %s)",
		user, cfg.Enabled, cfg.Minutes(), created.ID, created.TotalUnits, created.UnitCost().String())
}
