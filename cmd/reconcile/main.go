// Command reconcile audits campaign totals against a recompute over
// successful donations. It exits 1 when any total has drifted.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"fundly/internal/campaign"
	"fundly/internal/repository/postgres"
	"fundly/pkg/config"
	"fundly/pkg/logger"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "audit timeout")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New("reconcile-audit")

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required", nil)
	}

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := campaign.NewAuditor(postgres.NewCampaignRepository(db), log).Check(ctx)
	if err != nil {
		log.Fatal("Audit failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)

	if !report.Consistent() {
		log.Error("Campaign totals drifted", map[string]interface{}{
			"mismatches": len(report.Mismatches),
		})
		db.Close()
		os.Exit(1)
	}
	log.Info("Campaign totals consistent", map[string]interface{}{
		"checked": report.Checked,
	})
}
