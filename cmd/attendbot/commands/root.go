package commands

import (
	"context"
	"fmt"
	"os"

	"attendbot-backend/lib/configutil"
	"attendbot-backend/lib/scrapers/nietcloud"
	"attendbot-backend/lib/serviceutil"
	"attendbot-backend/lib/sqliteutil"
	"attendbot-backend/lib/vault"
	"attendbot-backend/services/accounts"
	accountsdb "attendbot-backend/services/accounts/db"
	"attendbot-backend/services/checker"
	"attendbot-backend/services/notifier"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "attendbot",
	Short: "attendbot scrapes the NIET cloud portal and emails daily attendance reports.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type Config struct {
	PortalBaseUrl string              `json:"portal_base_url"`
	MasterKey     string              `json:"master_key"`
	Database      string              `json:"database"`
	Smtp          notifier.SmtpConfig `json:"smtp"`
	CronSpec      string              `json:"cron_spec"`
	RegisterPort  int                 `json:"register_port"`
}

func loadConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

func openStore(cfg Config) accounts.Store {
	db, err := sqliteutil.OpenDB(accountsdb.Schema, cfg.Database)
	if err != nil {
		serviceutil.Fatal("failed to open database", err)
	}
	return accounts.NewStore(db)
}

func openVault(cfg Config) vault.Vault {
	v, err := vault.NewVault(cfg.MasterKey)
	if err != nil {
		serviceutil.Fatal("failed to load master key", err)
	}
	return v
}

func newChecker(cfg Config) checker.Service {
	factory := func(ctx context.Context) (checker.PortalSession, error) {
		return nietcloud.NewClient(ctx, nietcloud.ClientOptions{
			BaseUrl: cfg.PortalBaseUrl,
		})
	}
	return checker.NewService(
		openStore(cfg),
		openVault(cfg),
		notifier.NewSmtpSender(cfg.Smtp),
		factory,
	)
}
