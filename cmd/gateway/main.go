// Package main provides the entry point for the ConceptDB gateway.
//
// The gateway fronts a relational engine and a vector engine behind a single
// query surface: structured SQL, natural-language prompts, or both at once.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/domain/evolution"
	"github.com/conceptdb/gateway/domain/health"
	"github.com/conceptdb/gateway/domain/intent"
	"github.com/conceptdb/gateway/domain/quota"
	"github.com/conceptdb/gateway/domain/router"
	"github.com/conceptdb/gateway/domain/sync"
	"github.com/conceptdb/gateway/domain/tracing"
	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/internal/database"
	"github.com/conceptdb/gateway/internal/migrate"
	"github.com/conceptdb/gateway/internal/server"
	"github.com/conceptdb/gateway/pkg/embeddings"
	"github.com/conceptdb/gateway/pkg/llm"
	"github.com/conceptdb/gateway/pkg/logger"
	"github.com/conceptdb/gateway/pkg/relational"
	"github.com/conceptdb/gateway/pkg/vectorstore"
)

func main() {
	// Load .env files if present (for local development).
	// Order matters: .env.local overrides .env
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		// Logging
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure modules
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		server.Module,
		tracing.Module,

		// Collaborator adapters
		relational.Module,
		vectorstore.Module,
		embeddings.Module,
		llm.Module,

		// Domain modules
		health.Module,
		quota.Module,
		concepts.Module,
		evolution.Module,
		intent.Module,
		router.Module,

		// Background synchronizer (relational <-> concept)
		sync.Module,
	).Run()
}
