package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/gotta-go/internal/api"
	"github.com/LeventeLantos/gotta-go/internal/config"
	"github.com/LeventeLantos/gotta-go/internal/dispatch"
	"github.com/LeventeLantos/gotta-go/internal/identity"
	"github.com/LeventeLantos/gotta-go/internal/kv"
	"github.com/LeventeLantos/gotta-go/internal/mail"
	"github.com/LeventeLantos/gotta-go/internal/repo"
	"github.com/LeventeLantos/gotta-go/internal/scheduler"
	"github.com/LeventeLantos/gotta-go/internal/service"
	"github.com/LeventeLantos/gotta-go/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Server.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("gotta-go stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	slot, closeSlot, err := openSlot(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSlot()

	items := store.New(slot,
		store.WithKey(cfg.Store.Key),
		store.WithCapacity(cfg.Store.Capacity),
		store.WithGrace(cfg.Store.Grace),
	)
	items.Load(ctx)

	sweep, err := scheduler.New("expiry-sweep", cfg.Sweep.Interval, sweepTask(items, slot))
	if err != nil {
		return err
	}
	sweep.Start()
	defer sweep.Stop()

	calls := dispatch.NewCallClient(dispatch.CallConfig{
		SpaceURL:  cfg.SignalWire.SpaceURL,
		ProjectID: cfg.SignalWire.ProjectID,
		APIKey:    cfg.SignalWire.APIKey,
		From:      cfg.SignalWire.From,
	})
	defer calls.Close()

	texts := dispatch.NewTextClient(dispatch.TextConfig{
		BaseURL:  cfg.ClickSend.BaseURL,
		Username: cfg.ClickSend.Username,
		APIKey:   cfg.ClickSend.APIKey,
	})

	deps := api.Deps{
		Items: items,
		Sweep: sweep,
	}

	var settings repo.SettingsRepository
	if cfg.Database.Enabled {
		db, err := repo.Open(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := repo.Migrate(ctx, db); err != nil {
			return err
		}

		settings = repo.NewPostgresSettingsRepo(db)
		deps.Identity = identity.NewService(repo.NewPostgresUserRepo(db), slot, newMailer(cfg.Mail), identity.Config{
			Secret:     []byte(cfg.Auth.JWTSecret),
			TokenTTL:   cfg.Auth.TokenTTL,
			ResetTTL:   cfg.Auth.ResetTTL,
			AdminEmail: cfg.Auth.AdminEmail,
			ResetURL:   cfg.Auth.ResetURL,
		})
	} else {
		slog.Warn("POSTGRES_URL not set, accounts disabled and requests act as the local user")
	}

	maintenance := service.NewMaintenanceService(settings, slot, cfg.Cache.TTL)
	scheduling := service.NewScheduler(items, calls, texts, maintenance, cfg.ContentMax)
	deps.Maintenance = maintenance
	deps.Scheduling = scheduling

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		scheduling.Requests(),
	)
	metrics := api.NewMetrics(reg, items)
	limiter := api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(api.NewHandler(deps), metrics, limiter)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("gotta-go starting",
		"addr", cfg.Server.Address,
		"sweep_interval", cfg.Sweep.Interval,
		"capacity", items.Capacity(),
		"redis", cfg.Redis.Enabled,
		"accounts", cfg.Database.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// sweepTask drops overdue items and, on slots that keep expired keys around,
// purges those as well.
func sweepTask(items *store.Store, slot kv.Store) scheduler.Task {
	purger, _ := slot.(kv.Purger)
	return func(ctx context.Context) {
		items.Sweep(ctx)
		if purger == nil {
			return
		}
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			slog.Error("purging expired keys failed", "err", err)
			return
		}
		if n > 0 {
			slog.Info("purged expired keys", "count", n)
		}
	}
}

// openSlot picks Redis when REDIS_ADDR is set and the local SQLite file
// otherwise.
func openSlot(ctx context.Context, cfg *config.Config) (kv.TTLStore, func(), error) {
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return kv.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
	}

	s, err := kv.OpenSQLite(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

func newMailer(cfg config.MailConfig) mail.Mailer {
	if !cfg.Enabled {
		return mail.LogMailer{}
	}
	return mail.NewSendGridMailer(cfg.APIKey, cfg.FromEmail, cfg.FromName)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func loggingMiddleware(next http.Handler) http.Handler {
	return api.Logging(next)
}
