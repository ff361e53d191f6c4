// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eaglechat/gateway/pkg/api"
	v1 "github.com/eaglechat/gateway/pkg/api/v1"
	"github.com/eaglechat/gateway/pkg/config"
	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/networking"
	"github.com/eaglechat/gateway/pkg/providers"
	"github.com/eaglechat/gateway/pkg/register"
	"github.com/eaglechat/gateway/pkg/storage/sqlite"
	"github.com/eaglechat/gateway/pkg/vault"
)

var (
	serveAddress    string
	serveConfigPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE:  serveCmdFunc,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "127.0.0.1:8787", "Address to listen on")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.json", "Path to the configuration file")
}

func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return err
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.LogDirectory, cfg.Logging.RetentionDays); err != nil {
		return err
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return err
	}

	v, err := vault.New(secrets.MasterKey)
	if err != nil {
		return fmt.Errorf("initializing vault: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(ctx, secrets.StoreURL, secrets.StoreServiceKey)
	if err != nil {
		return fmt.Errorf("opening tenant store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Errorf("closing store: %v", err)
		}
	}()

	store := sqlite.NewTenantStore(db)
	conversations := sqlite.NewConversationStore(db)

	outbound := networking.NewClientBuilder().
		WithPrivateIPs(cfg.API.DevelopmentMode).
		Build()
	if cfg.API.DevelopmentMode {
		logger.Warnf("development mode: outbound calls to private addresses are allowed")
	}

	coordinator := register.NewCoordinator(store, outbound,
		cfg.Callback.RetryAttempts,
		time.Duration(cfg.Callback.RetryDelaySeconds)*time.Second,
	)
	broker := providers.NewBroker(store, v,
		providers.NewAnthropicClient(outbound, ""),
		providers.NewOpenAIClient(outbound, ""),
	)

	return api.Serve(ctx, serveAddress, cfg, v1.Deps{
		Store:         store,
		Conversations: conversations,
		Vault:         v,
		Coordinator:   coordinator,
		Broker:        broker,
	})
}
