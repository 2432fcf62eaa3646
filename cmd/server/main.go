// Package main provides the entry point for the wheel-strategy backtesting
// service: historical data store, supervised run manager, and the HTTP/
// WebSocket API consumed by the investment platform.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/adrianolucasdepaula/invest-sub001/internal/api"
	"github.com/adrianolucasdepaula/invest-sub001/internal/marketdata"
	"github.com/adrianolucasdepaula/invest-sub001/internal/runner"
	"github.com/adrianolucasdepaula/invest-sub001/pkg/types"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configFile := flag.String("config", "", "Config file path (yaml)")
	host := flag.String("host", "", "Server host override")
	port := flag.Int("port", 0, "Server port override")
	dataDir := flag.String("data", "", "Data directory override")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	config, err := loadConfig(*configFile)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *host != "" {
		config.Host = *host
	}
	if *port != 0 {
		config.Port = *port
	}
	if *dataDir != "" {
		config.DataDir = *dataDir
	}

	logger.Info("Starting backtest service",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("dataDir", config.DataDir),
		zap.Int("maxConcurrent", config.MaxConcurrent),
	)

	store, err := marketdata.NewFileStore(logger, config.DataDir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	manager := runner.NewManager(logger, store, config.MaxConcurrent)
	manager.SetProgressInterval(config.ProgressEvery)

	server := api.NewServer(logger, config, manager, store)
	manager.AttachSink(server)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", config.Host, config.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", config.Host, config.Port, config.WebSocketPath)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}
	manager.Wait()

	logger.Info("Server stopped")
}

// loadConfig reads the server config from file and environment. Environment
// variables use the BACKTEST_ prefix (BACKTEST_PORT, BACKTEST_DATA_DIR, ...).
func loadConfig(path string) (*types.ServerConfig, error) {
	v := viper.New()

	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("websocket_path", "/ws")
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("max_concurrent", 8)
	v.SetDefault("progress_every", 21)
	v.SetDefault("enable_metrics", true)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config types.ServerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
