package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mentora-ai/mentora/config"
	"github.com/mentora-ai/mentora/internal/brain"
	"github.com/mentora-ai/mentora/internal/consent"
	"github.com/mentora-ai/mentora/internal/engine"
	"github.com/mentora-ai/mentora/internal/extract"
	"github.com/mentora-ai/mentora/internal/memory/ltm"
	"github.com/mentora-ai/mentora/internal/memory/mtm"
	"github.com/mentora-ai/mentora/internal/memory/pack"
	"github.com/mentora-ai/mentora/internal/memory/stm"
	"github.com/mentora-ai/mentora/internal/recommend"
	"github.com/mentora-ai/mentora/internal/store"
	"github.com/mentora-ai/mentora/internal/telemetry"
	"github.com/mentora-ai/mentora/provider"
)

// stateMirror persists teaching-mode changes through the store so a user's
// mode survives restarts.
type stateMirror struct {
	st *store.Store
}

func (m stateMirror) SaveState(userID string, state brain.State) error {
	return m.st.SaveUserState(context.Background(), userID, string(state))
}

func (m stateMirror) LoadState(userID string) (brain.State, bool, error) {
	s, ok, err := m.st.LoadUserState(context.Background(), userID)
	return brain.State(s), ok, err
}

// Run wires every tier together and serves the HTTP API until the process
// exits.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	metrics := telemetry.NewMetrics()
	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	ctx := context.Background()
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	dsn := cfg.Storage.Postgres.DSN()
	_ = Migrate("file://migrations", dsn, "up", 0)

	st, err := store.New(ctx, dsn)
	if err != nil {
		return err
	}
	for _, table := range []string{"ltm_memories", "ltm_consent", "attempts"} {
		if !st.TableExists(ctx, table) {
			baseLogger.Printf("table %s missing, run migrations; dependent features degrade until then", table)
		}
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	limits := stm.LimitsFromConfig(cfg.Memory.STM)
	var shortmem stm.Store
	switch cfg.Memory.STM.Backend {
	case "redis":
		if rdb == nil {
			return fmt.Errorf("memory.stm.backend=redis requires storage.redis")
		}
		shortmem = stm.NewRedis(rdb, limits)
	default:
		shortmem = stm.NewInMemory(limits)
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	machine := brain.NewMachine(brain.WithMirror(stateMirror{st: st}))

	policy := consent.PolicyFor(consent.Preset(cfg.Consent.Preset))
	if cfg.Consent.MaxFactsPerDay > 0 {
		policy.MaxFactsPerDay = cfg.Consent.MaxFactsPerDay
	}
	if cfg.Consent.StoryMinChars > 0 {
		policy.StoryMinChars = cfg.Consent.StoryMinChars
	}
	gate := consent.NewGate(st, policy, telemetry.NewLogger("[CONSENT] "))

	repo := ltm.NewRepository(st, time.Now)
	slots := mtm.NewSlots(st, telemetry.NewLogger("[MTM] "), time.Now)
	stats := mtm.NewAggregator(st, telemetry.NewLogger("[MTM] "), time.Now)
	packs := pack.New(st, stats, slots, st, pack.BudgetsFromConfig(cfg.Memory.Pack), telemetry.NewLogger("[PACK] "))

	eng := engine.New(engine.Deps{
		Machine:  machine,
		STM:      shortmem,
		Gate:     gate,
		Rules:    extract.PortugueseRules{},
		LTM:      repo,
		Slots:    slots,
		Stats:    stats,
		Pack:     packs,
		LLM:      llm,
		Attempts: st,
		Metrics:  metrics,
		Logger:   telemetry.NewLogger("[ENGINE] "),
	})

	cons := ltm.NewConsolidator(repo, st, ltm.ConsolidatorOptions{
		MinNewAttempts: cfg.Memory.Consolidation.MinNewAttempts,
		MaxScan:        cfg.Memory.Consolidation.MaxScan,
	}, telemetry.NewLogger("[CONSOLIDATE] "))

	rec := recommend.New(repo, st, recommend.Options{
		MinSample: cfg.Memory.Consolidation.MinSample,
	}, telemetry.NewLogger("[RECOMMEND] "))

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: []byte(secret)}
	auth.Register(api.Group("/auth"))

	ch := &ChatHandler{Engine: eng}
	ch.Register(api.Group(""), auth.Secret)

	mh := &MemoryHandler{
		Consents:    gate,
		ConsentRead: st,
		Machine:     machine,
		Prefs:       repo,
		Pack:        packs,
		Consolidate: cons,
		Recommend:   rec,
		Metrics:     metrics,
	}
	mh.Register(api.Group("/me"), auth.Secret)

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{
			Users:       st,
			Consolidate: cons,
			STM:         shortmem,
			Rdb:         rdb,
			Metrics:     metrics,
			Logger:      telemetry.NewLogger("[SCHED] "),
			Cron:        cfg.Scheduler.Cron,
			Stop:        make(chan struct{}),
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":8090"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
