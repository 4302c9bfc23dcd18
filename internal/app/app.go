package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/tinyman/internal/cli"
	"github.com/MrSnakeDoc/tinyman/internal/config"
	"github.com/MrSnakeDoc/tinyman/internal/credentials"
	"github.com/MrSnakeDoc/tinyman/internal/httpserver"
	"github.com/MrSnakeDoc/tinyman/internal/httpserver/deps"
	"github.com/MrSnakeDoc/tinyman/internal/logger"
	"github.com/MrSnakeDoc/tinyman/internal/manager"
	"github.com/MrSnakeDoc/tinyman/internal/notify"
	"github.com/MrSnakeDoc/tinyman/internal/probe"
	"github.com/MrSnakeDoc/tinyman/internal/redis"
	"github.com/MrSnakeDoc/tinyman/internal/state"
	redisstore "github.com/MrSnakeDoc/tinyman/internal/store/redis"
	"github.com/MrSnakeDoc/tinyman/internal/tinyurl"
	"github.com/MrSnakeDoc/tinyman/internal/utils"
	"github.com/MrSnakeDoc/tinyman/internal/version"
)

// statusSweepRPS paces POST /api/sweep per client.
const statusSweepRPS = 0.2

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	store       *state.Store
	manager     *manager.Manager
	shell       *cli.Shell
	server      *httpserver.Server
	redisClient *goredis.Client
	events      *notify.Publisher
}

// New wires every component from cfg. Optional backends that cannot be
// reached are logged and left out; they never block the command loop.
func New(cfg *config.Config, in io.Reader, out io.Writer) (*App, error) {
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog, cfg.LogFile)
	loggerClient.Debug("configuration loaded", logger.Any("config", cfg.Redacted()))

	pool, err := credentials.New(cfg.AuthTokens)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential pool: %w", err)
	}

	prober := probe.New(probe.Options{
		Timeout: cfg.ProbeTimeout,
		Retries: cfg.ProbeRetries,
	}, loggerClient)

	client := tinyurl.NewClient(cfg.APIBaseURL, pool, prober,
		tinyurl.WithLogger(loggerClient),
		tinyurl.WithRequestTimeout(cfg.RequestTimeout),
		tinyurl.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	a := &App{cfg: cfg, logger: loggerClient}

	var observers []state.Observer
	checks := make(map[string]deps.Check)

	if cfg.RedisAddr != "" {
		loggerClient.Info("connecting to redis mirror", logger.String("addr", cfg.RedisAddr))
		rc, err := redis.Connect(context.Background(), redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			ConnectTimeout: cfg.RedisConnectTimeout,
		}, loggerClient)
		if err != nil {
			loggerClient.Warn("redis mirror disabled", logger.Error(err))
		} else {
			mirror := redisstore.NewMirror(rc)
			observers = append(observers, mirror)
			checks["redis"] = mirror.Ping
			a.redisClient = rc
		}
	}

	if cfg.NATSURL != "" {
		pub, err := notify.Connect(cfg.NATSURL, cfg.NATSSubject, loggerClient)
		if err != nil {
			loggerClient.Warn("nats events disabled", logger.Error(err))
		} else {
			observers = append(observers, pub)
			a.events = pub
		}
	}

	store, err := state.NewStore(cfg.PingInterval, loggerClient, observers...)
	if err != nil {
		return nil, err
	}
	a.store = store

	opts := manager.Options{
		SelfDelete:       cfg.SelfDelete,
		FailureThreshold: cfg.FailureThreshold,
	}
	if len(cfg.FallbackURLs) > 0 {
		opts.Failover = manager.FirstReachable{URLs: cfg.FallbackURLs, Validator: prober}
		loggerClient.Info("failover enabled", logger.Int("fallback_urls", len(cfg.FallbackURLs)))
	}
	a.manager = manager.New(client, pool, store, prober, loggerClient, opts)
	a.shell = cli.New(a.manager, in, out, loggerClient)

	if cfg.StatusListen != "" {
		a.server = httpserver.New(cfg.StatusListen, loggerClient, deps.Deps{
			Logger:       loggerClient,
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			TimeNow:      time.Now,
			AllowedCIDRS: cfg.AllowedCIDRS,
			TrustProxy:   cfg.TrustProxy,
			Store:        store,
			Checks:       checks,
			SweepLimit:   statusSweepRPS,
		})
	}

	return a, nil
}

// Run blocks on the command loop until exit, end of input, SIGINT or SIGTERM,
// then stops every monitor and closes the optional backends.
func (a *App) Run() error {
	a.logger.Info("starting",
		logger.String("version", version.Version),
		logger.String("commit", version.Commit),
		logger.String("built", version.BuildDate),
		logger.String("go", version.GoVersion))

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	errCh := make(chan error, 1)
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				errCh <- fmt.Errorf("status server error: %w", err)
				cancel()
			}
		}()
	}

	runErr := a.shell.Run(ctx)
	select {
	case err := <-errCh:
		runErr = err
	default:
	}

	a.logger.Info("shutting down")
	a.shutdown()

	return runErr
}

func (a *App) shutdown() {
	a.manager.Shutdown()
	a.logger.Info("monitors stopped")

	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Warn("failed to stop status server", logger.Error(err))
		}
	}

	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("failed to drain nats", logger.Error(err))
		}
	}

	if a.redisClient != nil {
		utils.MustClose(a.redisClient, "redis", a.logger)
	}

	a.logger.Info("stopped cleanly")
	_ = a.logger.Sync()
}
