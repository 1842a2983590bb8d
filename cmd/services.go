package cmd

import (
	"context"
	"database/sql"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Laisky/codepatch/internal/library/llm"
	"github.com/Laisky/codepatch/internal/patch/applicator"
	"github.com/Laisky/codepatch/internal/patch/archive"
	"github.com/Laisky/codepatch/internal/patch/eventlog"
	"github.com/Laisky/codepatch/internal/patch/orchestrator"
	"github.com/Laisky/codepatch/internal/patch/store"
	"github.com/Laisky/codepatch/library/config"
	"github.com/Laisky/codepatch/library/db/postgres"
	"github.com/Laisky/codepatch/library/db/redis"
	"github.com/Laisky/codepatch/library/db/sql/counter"
	"github.com/Laisky/codepatch/library/throttle"
)

// services are the long-lived components of a SQL-backed deployment.
type services struct {
	db      *sql.DB
	store   *store.Store
	events  *eventlog.Service
	applier *applicator.Applicator
	pool    *pgxpool.Pool
	redis   *redis.DB
}

// newServices opens the project database, the optional archive and the
// optional learning-event log, and builds the applicator over them.
func newServices(ctx context.Context, logger logSDK.Logger) (*services, error) {
	svc := &services{}
	fail := func(err error) (*services, error) {
		svc.Close()
		return nil, err
	}

	storeSettings := store.LoadSettingsFromConfig()
	db, err := store.Open(ctx, storeSettings)
	if err != nil {
		return fail(errors.WithStack(err))
	}
	svc.db = db

	var backupArchive store.Archive
	if archiveSettings := archive.LoadSettingsFromConfig(); archiveSettings.Enabled {
		bucket, err := archive.New(archiveSettings)
		if err != nil {
			return fail(errors.Wrap(err, "new backup archive"))
		}
		backupArchive = bucket
	}

	if svc.store, err = store.NewStore(ctx, db, storeSettings, backupArchive, logger.Named("store"), nil, nil); err != nil {
		return fail(errors.Wrap(err, "new project store"))
	}

	var recorder applicator.EventRecorder
	if dsn := strings.TrimSpace(config.String("settings.codepatch.eventlog.dsn", "")); dsn != "" {
		if svc.pool, err = postgres.NewPool(ctx, dsn); err != nil {
			return fail(errors.Wrap(err, "connect event log"))
		}
		if svc.events, err = eventlog.NewService(ctx, svc.pool, logger.Named("eventlog"), nil); err != nil {
			return fail(errors.Wrap(err, "new event log"))
		}
		recorder = svc.events
	} else {
		logger.Info("learning event log disabled")
	}

	if svc.applier, err = applicator.New(svc.store, svc.store, recorder,
		applicator.LoadSettingsFromConfig(), logger.Named("applicator"), nil); err != nil {
		return fail(errors.Wrap(err, "new applicator"))
	}

	return svc, nil
}

// Close releases every connection opened by newServices.
func (s *services) Close() {
	if s == nil {
		return
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// newGenerator builds the LLM orchestrator, or returns nil when no gateway
// key is configured.
func (s *services) newGenerator(ctx context.Context, logger logSDK.Logger) (*orchestrator.Orchestrator, error) {
	llmSettings := llm.LoadSettingsFromConfig()
	if strings.TrimSpace(llmSettings.APIKey) == "" {
		logger.Info("llm api key not set, generation disabled")
		return nil, nil
	}

	limits := orchestrator.LoadSettingsFromConfig()
	var counters throttle.Store
	switch limits.Backend {
	case "redis":
		s.redis = redis.NewDB(redis.OptionsFromConfig())
		if err := s.redis.Ping(ctx); err != nil {
			return nil, errors.WithStack(err)
		}
		counters = s.redis
	default:
		sqlCounter, err := counter.New(ctx, s.db)
		if err != nil {
			return nil, errors.Wrap(err, "new sql counter")
		}
		counters = sqlCounter
	}

	limiter, err := throttle.NewLimiter(counters, throttle.LimiterCfg{
		Limit:  limits.RequestsPerWindow,
		Window: limits.Window,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new rate limiter")
	}
	breaker, err := throttle.NewBreaker(counters, "llm", throttle.BreakerCfg{
		Threshold: limits.BreakerThreshold,
		Cooldown:  limits.BreakerCooldown,
	})
	if err != nil {
		return nil, errors.Wrap(err, "new circuit breaker")
	}

	logger.Info("llm generation enabled",
		zap.String("model", llmSettings.Model),
		zap.String("counter_backend", limits.Backend))
	return orchestrator.New(s.store, s.applier, llm.NewClient(llmSettings, nil), limiter, breaker, logger.Named("orchestrator"))
}
