// Package main registers a tenant and optionally provisions its tokens.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/R3E-Network/token_engine/internal/app/runtime"
	"github.com/R3E-Network/token_engine/internal/app/services/tenants"
	"github.com/R3E-Network/token_engine/internal/config"
	"github.com/R3E-Network/token_engine/internal/logging"
)

func main() {
	var (
		envFile   = flag.String("env", "", "Optional .env file to load")
		name      = flag.String("name", "", "Tenant display name")
		email     = flag.String("email", "", "Dashboard login email")
		password  = flag.String("password", "", "Dashboard password")
		plan      = flag.String("plan", config.PlanFree, "Subscription plan")
		provision = flag.Bool("provision", false, "Create the tenant's consent, data capture and incentive tokens")
		supply    = flag.Uint64("incentive-supply", 0, "Incentive token supply; defaults to INCENTIVE_SUPPLY")
	)
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("DATABASE_URL is required; an in-memory tenant would be lost on exit")
	}

	logger := logging.New("seed-tenant", cfg.LogLevel, "text")
	gateway, err := runtime.New(cfg, logger)
	if err != nil {
		log.Fatalf("initialize: %v", err)
	}
	defer gateway.Shutdown(context.Background())

	ctx := context.Background()
	svc := gateway.Domain().Tenants
	created, apiKey, err := svc.Register(ctx, tenants.RegisterRequest{
		Name:     *name,
		Email:    *email,
		Password: *password,
		Plan:     *plan,
	})
	if err != nil {
		log.Fatalf("register tenant: %v", err)
	}

	if *provision {
		amount := *supply
		if amount == 0 {
			amount = cfg.IncentiveSupply
		}
		created, err = svc.Provision(ctx, created.ID, amount)
		if err != nil {
			log.Fatalf("provision tokens: %v", err)
		}
	}

	fmt.Fprintf(os.Stdout, "tenant_id=%s\n", created.ID)
	fmt.Fprintf(os.Stdout, "api_key=%s\n", apiKey)
	if created.Tokens.ConsentTokenID != "" {
		fmt.Fprintf(os.Stdout, "consent_token_id=%s\n", created.Tokens.ConsentTokenID)
		fmt.Fprintf(os.Stdout, "data_capture_token_id=%s\n", created.Tokens.DataCaptureTokenID)
		fmt.Fprintf(os.Stdout, "incentive_token_id=%s\n", created.Tokens.IncentiveTokenID)
	}
}
