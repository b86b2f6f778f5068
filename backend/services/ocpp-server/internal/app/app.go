package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ocpphub/backend/libs/auth"
	"ocpphub/backend/libs/db"
	libredis "ocpphub/backend/libs/redis"
	"ocpphub/backend/services/ocpp-server/internal/cache"
	"ocpphub/backend/services/ocpp-server/internal/clients"
	"ocpphub/backend/services/ocpp-server/internal/config"
	"ocpphub/backend/services/ocpp-server/internal/directory"
	"ocpphub/backend/services/ocpp-server/internal/events"
	"ocpphub/backend/services/ocpp-server/internal/handlers"
	httpserver "ocpphub/backend/services/ocpp-server/internal/http"
	apihandlers "ocpphub/backend/services/ocpp-server/internal/http/handlers"
	"ocpphub/backend/services/ocpp-server/internal/http/middleware"
	"ocpphub/backend/services/ocpp-server/internal/metrics"
	"ocpphub/backend/services/ocpp-server/internal/ocpp"
	"ocpphub/backend/services/ocpp-server/internal/repository"
	"ocpphub/backend/services/ocpp-server/internal/service"
	"ocpphub/backend/services/ocpp-server/internal/telemetry"
	"ocpphub/backend/services/ocpp-server/internal/ws"
)

// App wires all dependencies for the OCPP server.
type App struct {
	httpServer *httpserver.Server
	handler    http.Handler
	manager    *ws.Manager
	correlator *ocpp.Correlator
	pool       *pgxpool.Pool
	redis      *goredis.Client
	influx     *telemetry.InfluxSink
	mqtt       *events.MQTTPublisher
	logger     *zap.Logger
}

// Options overrides process wide defaults, mostly for tests.
type Options struct {
	// Registerer receives the service metrics, prometheus.DefaultRegisterer when nil.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics, prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	m, err := metrics.New(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	if cfg.Database.DSN != "" {
		a.pool, err = db.NewPostgresPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Database.Migrate {
			if err := repository.EnsureSchema(ctx, a.pool); err != nil {
				return nil, err
			}
		}
	}

	dir, err := a.buildDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher, err := a.buildPublisher(cfg)
	if err != nil {
		return nil, err
	}

	sink, err := a.buildSink(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stationState := service.NewStationState()
	txStore := service.NewTransactionStore()
	billingClient := clients.NewBillingClient(cfg.Services.BillingURL, logger)

	tracker := service.NewTransactionTracker(dir, txStore, stationState, billingClient, publisher, logger)
	aggregator := service.NewMeterAggregator(dir, txStore, sink, m, logger)

	a.manager = ws.NewManager(cfg.PingInterval(), m, logger)
	a.correlator = ocpp.NewCorrelator(a.manager, cfg.CommandTimeout(), m, logger)

	var journal ocpp.MessageLog
	if cfg.Database.Journal && a.pool != nil {
		journal = repository.NewMessageLogRepository(a.pool)
	}

	router := ocpp.NewRouter()
	handlers.Register(router, handlers.Dependencies{
		Directory:  dir,
		State:      stationState,
		Tracker:    tracker,
		Aggregator: aggregator,
		Events:     publisher,
		Logger:     logger,
	})
	processor := ocpp.NewProcessor(ocpp.NewParser(), router, a.correlator, journal, m, logger)

	creds, err := cfg.StationCredentials()
	if err != nil {
		return nil, err
	}
	wsServer := ws.NewServer(a.manager, processor, ws.ServerOptions{
		WriteTimeout: cfg.WriteTimeout(),
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		Auth:         ws.NewBasicAuth(creds),
		Failer:       a.correlator,
		Events:       publisher,
	}, logger)

	routes := httpserver.Routes{
		OCPP:     wsServer.HandleWS,
		Commands: apihandlers.NewCommandHandler(a.correlator, a.correlator.DefaultTimeout(), logger),
		Stations: apihandlers.NewStationsHandler(a.manager, stationState),
		Health:   apihandlers.NewHealthHandler(),
		Metrics:  promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}),
	}
	if cfg.Auth.JWTSecret != "" {
		routes.Protect = middleware.AuthMiddleware(auth.NewTokenService(cfg.Auth.JWTSecret, 0))
	} else {
		logger.Warn("operator api is not protected, set auth.jwtSecret to require bearer tokens")
	}

	a.handler = httpserver.NewRouter(routes)
	a.httpServer = httpserver.NewServer(cfg.HTTPAddress(), a.handler, cfg.HTTPWriteTimeout(), logger)

	logger.Info("ocpp server configured",
		zap.String("directory", cfg.Directory.Mode),
		zap.Bool("journal", journal != nil),
		zap.Bool("station_auth", len(creds) > 0),
		zap.Duration("command_timeout", cfg.CommandTimeout()))

	ok = true
	return a, nil
}

func (a *App) buildDirectory(ctx context.Context, cfg *config.Config) (directory.Directory, error) {
	switch cfg.Directory.Mode {
	case config.DirectoryHTTP:
		return clients.NewDirectoryClient(cfg.Directory.URL, cfg.Directory.Timeout, a.logger), nil
	case config.DirectoryPostgres:
		if a.pool == nil {
			return nil, errors.New("postgres directory requires a database")
		}
		var sessionCache directory.SessionCache
		if cfg.Redis.Addr != "" {
			client, err := libredis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return nil, fmt.Errorf("redis: %w", err)
			}
			a.redis = client
			sessionCache = cache.NewActiveSessions(client, cfg.Redis.TTL)
		}
		return directory.NewStore(
			repository.NewStationRepository(a.pool),
			repository.NewSessionRepository(a.pool),
			sessionCache,
			a.logger,
		), nil
	default:
		a.logger.Warn("using in-memory directory, state is lost on restart")
		return directory.NewMemory(), nil
	}
}

func (a *App) buildPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.MQTT.Broker == "" {
		return events.NopPublisher{}, nil
	}
	publisher, err := events.NewMQTTPublisher(events.MQTTConfig{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	a.mqtt = publisher
	return publisher, nil
}

func (a *App) buildSink(ctx context.Context, cfg *config.Config) (telemetry.Sink, error) {
	var sinks telemetry.Fanout
	if cfg.Services.TelemetryURL != "" {
		sinks = append(sinks, clients.NewTelemetryClient(cfg.Services.TelemetryURL, a.logger))
	}
	if cfg.Influx.URL != "" {
		a.influx = telemetry.NewInfluxSink(cfg.Influx.URL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, a.logger)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.influx.Ping(pingCtx); err != nil {
			// samples are best effort, a late influx only loses data points
			a.logger.Warn("influx is not reachable", zap.Error(err))
		}
		sinks = append(sinks, a.influx)
	}
	if len(sinks) == 0 {
		return telemetry.NopSink{}, nil
	}
	return sinks, nil
}

// Handler exposes the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Addr returns the HTTP listen address.
func (a *App) Addr() string {
	return a.httpServer.Addr()
}

// Run starts manager and HTTP server.
func (a *App) Run(ctx context.Context) error {
	go a.manager.Start(ctx)
	return a.httpServer.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.manager != nil {
		a.manager.CloseAll()
	}
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.influx != nil {
		a.influx.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
