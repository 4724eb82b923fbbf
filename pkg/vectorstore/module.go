package vectorstore

import (
	"log/slog"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/pkg/logger"
)

// Module provides the vector store selected by config (pgvector or memory).
var Module = fx.Module("vectorstore",
	fx.Provide(NewStore),
)

// NewStore selects the vector store backend from config.
func NewStore(cfg *config.Config, db bun.IDB, log *slog.Logger) Store {
	log = log.With(logger.Scope("vectorstore"))

	switch cfg.Vector.Backend {
	case "memory":
		log.Info("using in-memory vector store",
			slog.Int("dimension", cfg.Vector.Dimension))
		return NewMemoryStore(cfg.Vector.Dimension)
	default:
		log.Info("using pgvector store",
			slog.String("collection", cfg.Vector.Collection),
			slog.Int("dimension", cfg.Vector.Dimension))
		return NewPgvectorStore(db, cfg.Vector.Collection, cfg.Vector.Dimension)
	}
}
