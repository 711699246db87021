package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/syslog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/skatterlabs/skatter/internal/api"
	"github.com/skatterlabs/skatter/internal/broker"
	"github.com/skatterlabs/skatter/internal/config"
	"github.com/skatterlabs/skatter/internal/skhttp"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var (
	configPath = flag.String("config", "", "Config file path")
)

func main() {
	flag.Parse()
	cfg, err := config.Setup(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to read config")
	}

	logger := initLogger(cfg)

	logger.Info().Msgf("Starting skatter %s, commit %s, built at %s", version, commit, buildDate)

	b, err := broker.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to init broker")
	}
	if err = b.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start broker")
	}

	server := initHTTPServer(cfg, logger, b)

	// The listener comes up last: health answers 200 only once the
	// broker reached the running state.
	go func() {
		logger.Info().Msgf("Listening on %s", cfg.Broker.Port)

		err = server.ListenAndServe()
		if err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to listen HTTP server")
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-interrupt

	logger.Info().Msgf("Received system signal: %s. Shutting down skatter", sig)
	b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Shutdown(ctx)
	if err != nil {
		logger.Err(err).Msg("Failed to shutting down the HTTP server gracefully")
	}
}

func initLogger(cfg *config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	loggingCfg := cfg.Broker.Logging

	logLevel, err := zerolog.ParseLevel(loggingCfg.Level)
	if err != nil {
		log.Warn().Msgf("Unknown Level String: '%s', defaulting to DebugLevel", loggingCfg.Level)
		logLevel = zerolog.DebugLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	writers := make([]io.Writer, 0, 1)
	writers = append(writers, os.Stdout)

	if loggingCfg.SysLogEnabled {
		w, err := syslog.New(syslog.LOG_INFO, "skatter")
		if err != nil {
			log.Warn().Err(err).Msg("Unable to connect to the system log daemon")
		} else {
			writers = append(writers, zerolog.SyslogLevelWriter(w))
		}
	}

	if loggingCfg.FileLoggingEnabled {
		w, err := newRollingLogFile(&loggingCfg)
		if err != nil {
			log.Warn().Err(err).Msg("Unable to init file logger")
		} else {
			writers = append(writers, w)
		}
	}

	var baseLogger zerolog.Logger
	if len(writers) == 1 {
		baseLogger = zerolog.New(writers[0])
	} else {
		baseLogger = zerolog.New(zerolog.MultiLevelWriter(writers...))
	}

	return baseLogger.Level(logLevel).With().Timestamp().Logger()
}

func newRollingLogFile(cfg *config.Logging) (io.Writer, error) {
	dir := path.Dir(cfg.Filename)
	if unix.Access(dir, unix.W_OK) != nil {
		return nil, fmt.Errorf("no permissions to write logs to dir: %s", dir)
	}

	return &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxBackups: cfg.MaxBackups,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
	}, nil
}

func initHTTPServer(cfg *config.Config, logger zerolog.Logger, b broker.Broker) *http.Server {
	router := mux.NewRouter()
	skhttp.RegisterDebugHandlers(router, b.State, version, commit, buildDate)
	skhttp.RegisterQueryHandler(router, skhttp.NewQueryHandler(logger, b))
	skhttp.RegisterAPIHandlers(router, skhttp.NewAPIHandler(logger, api.NewService(b.Storage(), b.Routing(), b.Pool())))
	if cfg.Broker.ConsolePath != "" {
		router.PathPrefix("/console/").Handler(
			http.StripPrefix("/console/", http.FileServer(http.Dir(cfg.Broker.ConsolePath))))
	}

	return &http.Server{
		Addr:         cfg.Broker.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Broker.Timeout + 5*time.Second,
	}
}
