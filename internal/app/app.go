package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"threatmesh/internal/app/server"
	"threatmesh/internal/config"
	"threatmesh/internal/database"
	"threatmesh/internal/denylist"
	"threatmesh/internal/engine"
	"threatmesh/internal/events"
	"threatmesh/internal/geolite"
	"threatmesh/internal/governance"
	"threatmesh/internal/jobs/runtime"
	"threatmesh/internal/metrics"
	"threatmesh/internal/support"
)

const (
	defaultPort        = 8082
	relayBuffer        = 4096
	settingsPathEnvKey = "SETTINGS_PATH"
	noRedisEnvKey      = "NO_REDIS"
)

type options struct {
	port         int
	sqlitePath   string
	settingsPath string
	noRedis      bool
}

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(parseLogLevel(os.Getenv("LOG_LEVEL")))

	var opts options
	flag.IntVar(&opts.port, "port", defaultPort, "Port for the API server")
	flag.StringVar(&opts.sqlitePath, "sqlite", "", "Use a SQLite file instead of Postgres (development)")
	flag.StringVar(&opts.settingsPath, "settings", support.GetEnv(settingsPathEnvKey, ""), "Path to settings.json")
	flag.BoolVar(&opts.noRedis, "no-redis", support.GetEnvBool(noRedisEnvKey, false), "Run standalone without Redis")
	flag.Parse()
	opts.port = resolvePort("PORT", "BACKEND_PORT", opts.port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, opts)
}

func run(ctx context.Context, opts options) error {
	config.SetSettingsPath(opts.settingsPath)
	if err := config.ReadSettings(); err != nil {
		return err
	}

	db, err := openDatabase(opts)
	if err != nil {
		return err
	}

	redisClient := connectRedis(ctx, opts)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Warn("error closing redis client", "error", err)
			}
		}()
		config.EnableRedisSynchronization(ctx, redisClient)
		defer config.DisableRedisSynchronization()
	}

	bus := events.NewBus()
	defer bus.Close()

	m, err := metrics.New(prometheus.NewRegistry(), func() float64 { return float64(bus.Dropped()) })
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	eng, err := engine.New(ctx, db,
		engine.WithParams(config.ConsensusParams),
		engine.WithAuthority(governance.NewAuthority(config.GovernanceMembers()...)),
		engine.WithPublisher(bus),
		engine.WithRejectHook(m.ObserveReject),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := eng.SeedWhitelist(ctx, config.WhitelistSeed()); err != nil {
		return fmt.Errorf("seed whitelist: %w", err)
	}
	m.SetHeight(eng.Height())

	deny := denylist.NewManager(confirmedLoader(eng))

	locator := geolite.NewLocator(support.GetEnv("GEOLITE_DIR", geolite.DefaultDataDir))
	if err := locator.Load(); err != nil {
		log.Info("GeoLite database not loaded; threat status will not include country", "error", err)
	}
	defer locator.Close()
	updater := geolite.NewUpdater(locator, config.GetConfig().GeoLite.APIKey)

	// Subscribe before any goroutine starts so no committed event is missed.
	denyFeed := bus.Subscribe("denylist", 0, events.KindGlobalThreatConfirmed, events.KindGlobalThreatRevoked)
	metricsFeed := bus.Subscribe("metrics", 0)
	var relayFeed <-chan events.Event
	if redisClient != nil && config.GetConfig().Events.RedisRelay {
		relayFeed = bus.Subscribe("redis-relay", relayBuffer)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deny.Run(gctx, denyFeed, config.GetDenylistReloadInterval())
		return nil
	})
	g.Go(func() error {
		m.Run(gctx, metricsFeed)
		return nil
	})
	g.Go(func() error {
		runtime.StartBlockProducer(gctx, redisClient, eng, func(height uint64) {
			m.SetHeight(height)
			m.SetDenylistSize(deny.Len())
		})
		return nil
	})
	g.Go(func() error {
		runtime.StartGeoLiteUpdateRoutine(gctx, redisClient, updater)
		return nil
	})
	if relayFeed != nil {
		g.Go(func() error {
			events.RunRedisRelay(gctx, redisClient, relayFeed)
			return nil
		})
	}
	if redisClient != nil {
		g.Go(func() error {
			runtime.StartInstanceHeartbeat(gctx, redisClient, runtime.DefaultHeartbeatInterval, runtime.DefaultHeartbeatTTL, eng.Height)
			return nil
		})
	}

	api := server.New(server.Deps{
		Engine:         eng,
		Bus:            bus,
		Denylist:       deny,
		Metrics:        m,
		Locator:        locator,
		Redis:          redisClient,
		AllowedOrigins: splitList(os.Getenv("CORS_ORIGINS")),
	})
	g.Go(func() error {
		return api.Serve(gctx, opts.port)
	})

	log.Info("threatmesh started", "height", eng.Height(), "instance", runtime.InstanceID())
	return g.Wait()
}

func openDatabase(opts options) (*gorm.DB, error) {
	if opts.sqlitePath != "" {
		log.Warn("Using SQLite storage; do not share this database between instances", "path", opts.sqlitePath)
		return database.Open(database.SQLite(opts.sqlitePath))
	}
	db, err := database.Open(database.Postgres())
	if err != nil {
		return nil, fmt.Errorf("%w (dsn %s)", err, database.MaskedDSN())
	}
	return db, nil
}

// connectRedis returns nil in standalone mode. Redis being unreachable is not
// fatal: the instance then leads its own block producer.
func connectRedis(ctx context.Context, opts options) *redis.Client {
	if opts.noRedis {
		log.Info("Redis disabled; running standalone")
		return nil
	}
	client, err := support.OpenRedis(ctx, support.RedisURL())
	if err != nil {
		log.Warn("Redis unavailable; running standalone", "error", err)
		return nil
	}
	return client
}

func confirmedLoader(eng *engine.Engine) denylist.Loader {
	return func(ctx context.Context) ([]string, error) {
		confirmed, err := eng.ConfirmedThreats(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(confirmed))
		for _, s := range confirmed {
			out = append(out, s.Address)
		}
		return out, nil
	}
}

func parseLogLevel(raw string) log.Level {
	if strings.TrimSpace(raw) == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		log.Warn("invalid LOG_LEVEL, using info", "value", raw)
		return log.InfoLevel
	}
	return level
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
