package sync

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"

	"github.com/conceptdb/gateway/domain/concepts"
	"github.com/conceptdb/gateway/internal/config"
	"github.com/conceptdb/gateway/pkg/logger"
	"github.com/conceptdb/gateway/pkg/relational"
)

// Module provides the bidirectional synchronizer via fx.
var Module = fx.Module("sync",
	fx.Provide(
		NewRepository,
		func(r *Repository) CheckpointStore { return r },
		func(r *Repository) QuarantineStore { return r },
		provideService,
		provideHandler,
	),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(registerMutationHook),
	fx.Invoke(startScheduler),
)

func provideService(rel relational.Store, conceptSvc *concepts.Service, checkpoints CheckpointStore, quarantine QuarantineStore, cfg *config.Config, log *slog.Logger) (*Service, error) {
	var rules *RuleSet
	if cfg.Sync.RulesPath != "" {
		var err error
		rules, err = LoadRules(cfg.Sync.RulesPath)
		if err != nil {
			return nil, err
		}
		log.Info("sync mapping rules loaded",
			slog.String("path", cfg.Sync.RulesPath),
			slog.Int("tables", len(rules.Tables)))
	} else {
		log.Info("synchronizer inert: SYNC_RULES_PATH not set")
	}

	return NewService(rules, rel, conceptSvc, checkpoints, quarantine, Config{
		BatchSize:          cfg.Sync.BatchSize,
		CommitTimeout:      cfg.Sync.CommitTimeout,
		ErrorRateThreshold: cfg.Sync.ErrorRateThreshold,
		CleanWindows:       cfg.Sync.CleanWindows,
	}, log), nil
}

func provideHandler(svc *Service, quarantine QuarantineStore) *Handler {
	return NewHandler(svc, quarantine)
}

// registerMutationHook wires concept mutations into backward writeback.
func registerMutationHook(svc *Service, conceptSvc *concepts.Service) {
	if !svc.Enabled() {
		return
	}
	conceptSvc.SetMutationHook(svc.NotifyMutation)
}

// startScheduler runs the periodic forward pipeline and drains the backward
// queue under the fx lifecycle.
func startScheduler(lc fx.Lifecycle, svc *Service, cfg *config.Config, log *slog.Logger) {
	if !svc.Enabled() || !cfg.Sync.Enabled {
		return
	}

	log = log.With(logger.Scope("sync.scheduler"))
	c := cron.New()

	schedule := "@every " + cfg.Sync.Interval.String()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := svc.RunForward(context.Background()); err != nil {
			log.Error("scheduled forward sync failed", logger.Error(err))
		}
		if _, err := svc.RunBackward(context.Background()); err != nil {
			log.Error("scheduled backward sync failed", logger.Error(err))
		}
	}); err != nil {
		log.Error("failed to schedule sync", logger.Error(err))
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting synchronizer", slog.String("schedule", schedule))
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping synchronizer")
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
			}
			return nil
		},
	})
}
