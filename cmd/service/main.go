package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/2beens/pressauth/internal"
	"github.com/2beens/pressauth/internal/config"
	"github.com/2beens/pressauth/internal/logging"

	log "github.com/sirupsen/logrus"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "pressauth",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	tokenSecret := os.Getenv("PRESSAUTH_TOKEN_SECRET")
	if tokenSecret == "" {
		log.Fatalln("token secret not set. use PRESSAUTH_TOKEN_SECRET")
	}

	// only needed on first start, when the admin record does not exist yet
	adminPasswordHash := os.Getenv("PRESSAUTH_ADMIN_PASSWORD_HASH")

	dbPassword := os.Getenv("PRESSAUTH_DB_PASS")
	if dbPassword == "" {
		log.Warnln("db password not set. use PRESSAUTH_DB_PASS")
	}

	redisPassword := os.Getenv("PRESSAUTH_REDIS_PASS")
	if redisPassword == "" {
		log.Errorf("redis password not set. use PRESSAUTH_REDIS_PASS")
	}

	smtpPassword := os.Getenv("PRESSAUTH_SMTP_PASS")
	if cfg.NotifyMailEnable && smtpPassword == "" && cfg.SMTPUsername != "" {
		log.Errorf("smtp password not set. use PRESSAUTH_SMTP_PASS")
	}

	ipInfoToken := os.Getenv("PRESSAUTH_IPINFO_TOKEN")
	if ipInfoToken == "" {
		log.Warnln("ipinfo token not set, geo lookups use the free quota. use PRESSAUTH_IPINFO_TOKEN")
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME env var not set")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			TokenSecret:             tokenSecret,
			AdminPasswordHash:       adminPasswordHash,
			DBPassword:              dbPassword,
			RedisPassword:           redisPassword,
			SMTPPassword:            smtpPassword,
			IpInfoToken:             ipInfoToken,
			HoneycombTracingEnabled: honeycombEnabled,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, killing everything ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}
