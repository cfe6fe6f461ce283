package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/pressauth/internal/admin"
	"github.com/2beens/pressauth/internal/auth"
	"github.com/2beens/pressauth/internal/config"
	"github.com/2beens/pressauth/internal/db"
	"github.com/2beens/pressauth/internal/geoip"
	"github.com/2beens/pressauth/internal/mail"
	"github.com/2beens/pressauth/internal/middleware"
	"github.com/2beens/pressauth/internal/notify"
	"github.com/2beens/pressauth/internal/telemetry/metrics"
	"github.com/2beens/pressauth/internal/telemetry/tracing"
	"github.com/2beens/pressauth/internal/token"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/multierr"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	authService *auth.Service
	authGuard   *middleware.AuthGuard
	pipeline    *notify.Pipeline

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config                  *config.Config
	TokenSecret             string
	AdminPasswordHash       string
	DBPassword              string
	RedisPassword           string
	SMTPPassword            string
	IpInfoToken             string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
		DBHost:         cfg.PostgresHost,
		DBPort:         cfg.PostgresPort,
		DBName:         cfg.PostgresDBName,
		DBUser:         cfg.PostgresUser,
		DBPassword:     params.DBPassword,
		TracingEnabled: params.HoneycombTracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("new db pool: %w", err)
	}

	if err := dbPool.Ping(ctx); err != nil {
		log.Warnf("failed to ping db: %s", err)
	}

	pgxpoolCollector := pgxpoolprometheus.NewCollector(
		dbPool,
		map[string]string{"db_name": cfg.PostgresDBName},
	)
	promRegistry := metrics.SetupPrometheus(pgxpoolCollector)
	metricsManager := metrics.NewManager("pressauth", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})
	if params.HoneycombTracingEnabled {
		rdb.AddHook(redisotel.NewTracingHook())
	}

	rdbStatus := rdb.Ping(ctx)
	if err := rdbStatus.Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
	} else {
		log.Debugf("redis ping: %s", rdbStatus.Val())
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, "pressauth")
	if err != nil {
		return nil, err
	}

	adminRepo := admin.NewRepo(dbPool)
	if err := adminRepo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate admin table: %w", err)
	}
	if err := seedAdmin(ctx, adminRepo, cfg, params.AdminPasswordHash); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(
		[]byte(params.TokenSecret),
		token.WithIssuer(cfg.TokenIssuer),
		token.WithLeeway(cfg.TokenLeeway.Duration),
	)
	if err != nil {
		return nil, fmt.Errorf("new token codec: %w", err)
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.GeoIPTimeout.Duration,
	}

	mailer, err := newMailer(cfg, params.SMTPPassword)
	if err != nil {
		return nil, err
	}

	pipeline := notify.NewPipeline(notify.PipelineParams{
		Locator:        geoip.NewApi(params.IpInfoToken, tracedHttpClient, rdb),
		Mailer:         mailer,
		AdminEmail:     cfg.NotifyEmail,
		GeoTimeout:     cfg.GeoIPTimeout.Duration,
		MailTimeout:    cfg.MailTimeout.Duration,
		MetricsManager: metricsManager,
	})

	s := &Server{
		config:      cfg,
		dbPool:      dbPool,
		redisClient: rdb,

		authService: auth.NewService(adminRepo, codec, pipeline, cfg.TokenTTL.Duration, metricsManager),
		authGuard:   middleware.NewAuthGuard(codec, metricsManager),
		pipeline:    pipeline,

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	return s, nil
}

// seedAdmin makes sure the admin record exists. Without it, nobody could ever log in.
func seedAdmin(ctx context.Context, store admin.Store, cfg *config.Config, passwordHash string) error {
	_, err := store.Get(ctx)
	if err == nil {
		log.Debugln("admin record found")
		return nil
	}
	if !errors.Is(err, admin.ErrNotInitialized) {
		return fmt.Errorf("get admin: %w", err)
	}

	if passwordHash == "" {
		return fmt.Errorf("%w: set PRESSAUTH_ADMIN_PASSWORD_HASH to seed it", admin.ErrNotInitialized)
	}

	created, err := store.Seed(ctx, admin.Profile{
		Name:         cfg.AdminName,
		Slogan:       cfg.AdminSlogan,
		Gravatar:     cfg.AdminGravatar,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	if created {
		log.Infof("admin record [%s] created", cfg.AdminName)
	}

	return nil
}

func newMailer(cfg *config.Config, smtpPassword string) (notify.Mailer, error) {
	if !cfg.NotifyMailEnable {
		log.Warnln("login alert mails disabled, alerts will only be logged")
		return mail.LogMailer{}, nil
	}

	smtpMailer, err := mail.NewSMTPMailer(mail.SMTPMailerParams{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: smtpPassword,
		From:     cfg.SMTPFrom,
		Timeout:  cfg.MailTimeout.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("new smtp mailer: %w", err)
	}

	return smtpMailer, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("pressauth-router"))

	reqRateLimiter := redis_rate.NewLimiter(s.redisClient)
	authHandler := auth.NewHandler(s.authService, s.authGuard, s.config.TrustProxyHeaders)
	authHandler.SetupRoutes(r, reqRateLimiter, s.config.LoginRateLimitAllowedPerMin, s.metricsManager)

	// all the rest - unhandled paths
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(host string, port int) {
	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:           s.routerSetup(),
		Addr:              ipAndPort,
		WriteTimeout:      time.Minute,
		ReadTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")
	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	var shutdownErr error
	if s.httpServer != nil {
		shutdownErr = multierr.Append(shutdownErr, s.httpServer.Shutdown(ctx))
		log.Warnln("server shut down")
	}

	// no new logins now, give in-flight login alerts a chance to go out
	if err := s.pipeline.Wait(ctx); err != nil {
		log.Warnf("login alerts dropped on shutdown: %s", err)
	}

	if s.metricsHttpServer != nil {
		shutdownErr = multierr.Append(shutdownErr, s.metricsHttpServer.Shutdown(ctx))
		log.Warnln("metrics server shut down")
	}

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		shutdownErr = multierr.Append(shutdownErr, s.redisClient.Close())
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if shutdownErr != nil {
		log.Errorf(" >>> graceful shutdown errors: %s", shutdownErr)
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}
