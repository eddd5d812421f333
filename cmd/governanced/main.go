// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// governanced is the LoanGuard governance service: risk scoring, approval
// routing, the hash-chained audit trail, timeout escalation, and the
// emergency-override path, behind one HTTP API.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"loanguard/platform/approval"
	"loanguard/platform/audit"
	"loanguard/platform/config"
	"loanguard/platform/decision"
	"loanguard/platform/governance"
	"loanguard/platform/llm/anthropic"
	"loanguard/platform/override"
	"loanguard/platform/risk"
	"loanguard/platform/server"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("[MAIN] Configuration error: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[MAIN] Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		log.Fatalf("[MAIN] Database unreachable: %v", err)
	}

	auditor, err := audit.NewLogger(db)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize audit logger: %v", err)
	}

	approvalRepo, err := approval.NewPostgresRepository(db)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize approval store: %v", err)
	}
	workflow := approval.NewWorkflow(approvalRepo, auditor)

	seed, err := config.LoadGovernanceSeed(cfg.GovernanceFile)
	if err != nil {
		log.Fatalf("[MAIN] Failed to load governance seed: %v", err)
	}

	overrideRepo, err := override.NewPostgresRepository(db)
	if err != nil {
		log.Fatalf("[MAIN] Failed to initialize override store: %v", err)
	}
	overrides := override.NewManager(overrideRepo, auditor, seed.OverridePermissions)

	agent := decision.NewAgent(risk.NewEvaluator())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var engine *governance.Engine
	if cfg.AnthropicAPIKey != "" {
		provider, err := anthropic.NewProvider(anthropic.Config{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			log.Fatalf("[MAIN] Failed to initialize evaluation provider: %v", err)
		}
		engine = governance.NewEngine(provider, auditor)

		for _, r := range seed.Rules {
			if _, err := engine.AddRule(ctx, governance.Rule{
				Name:        r.Name,
				Keyword:     r.Keyword,
				ForcedRoute: r.ForcedRoute,
				Rationale:   r.Rationale,
				AddedBy:     "system",
			}); err != nil {
				log.Fatalf("[MAIN] Failed to seed governance rule %q: %v", r.Name, err)
			}
		}
	} else {
		log.Println("[MAIN] No evaluation service key configured; qualitative governance disabled")
	}

	srv := server.New(cfg, agent, workflow, auditor, overrides, engine)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[MAIN] Server error: %v", err)
	}
	log.Println("[MAIN] Shutdown complete")
}
