package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/promopilot/promopilot/internal/artifact"
	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/engine"
	"github.com/promopilot/promopilot/internal/server"
	"github.com/promopilot/promopilot/pkg/constants"
	"github.com/promopilot/promopilot/pkg/output"
	"github.com/promopilot/promopilot/pkg/validation"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var version = "dev"

// initializeLogger creates a zap logger based on configuration and CLI override
func initializeLogger(loggingConfig config.LoggingConfig, logLevelOverride string) (*zap.Logger, error) {
	// Determine log level (CLI override takes precedence)
	level := loggingConfig.Level
	if logLevelOverride != "" {
		level = logLevelOverride
	}
	if level == "" {
		level = "info" // Default to info level
	}

	// Parse log level
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	// Determine output format
	format := loggingConfig.Format
	if format == "" {
		format = "json" // Default to JSON for production
	}

	// Configure encoder
	var zapConfig zap.Config
	switch format {
	case "console":
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	case "json":
		zapConfig = zap.NewProductionConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	// Configure output file if specified
	if loggingConfig.OutputFile != "" {
		// Ensure the directory exists
		if dir := filepath.Dir(loggingConfig.OutputFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %v", dir, err)
			}
		}

		// Test if we can create/write to the file
		if file, err := os.OpenFile(loggingConfig.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %v", loggingConfig.OutputFile, err)
		} else {
			_ = file.Close()
		}

		zapConfig.OutputPaths = []string{loggingConfig.OutputFile}
		zapConfig.ErrorOutputPaths = []string{loggingConfig.OutputFile}
	}

	return zapConfig.Build()
}

func main() {
	// Process command line flags first to get config location
	configLocation := flag.String("config", constants.DefaultConfigFile, "path to configuration file")
	artifactDir := flag.String("artifacts", "", "artifact directory override")
	objectiveFlag := flag.String("objective", "", "objective to decide for (default: first configured)")
	outputFormatFlag := flag.String("output-format", "", "type of output override: pretty, csv, json")
	logLevel := flag.String("log-level", "", "log level override (debug, info, warn, error)")
	serve := flag.Bool("serve", false, "run the HTTP API server instead of a one-shot decision")
	serverConfigLocation := flag.String("server-config", constants.DefaultServerConfigFile, "path to server configuration file")
	flag.Parse()

	// Load the config file to get logging configuration
	conf, err := config.LoadConfiguration(*configLocation)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to load configuration at %s\", \"error\": \"%v\"}\n", *configLocation, err)
		return
	}

	// Initialize logging based on config and CLI override
	logger, err := initializeLogger(conf.Logging, *logLevel)
	if err != nil {
		fmt.Printf("{\"op\": \"main\", \"level\": \"fatal\", \"msg\": \"failed to initialize logger\", \"error\": \"%v\"}\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	if *artifactDir != "" {
		conf.Artifacts.Dir = *artifactDir
	}

	// Validate configuration and display any warnings
	warnings, err := conf.ValidateConfiguration()
	if err != nil {
		logger.Fatal(err.Error(),
			zap.String("op", "main"),
		)
	}
	for _, warning := range warnings {
		logger.Warn("Configuration warning: "+warning,
			zap.String("op", "main"),
		)
	}

	if *serve {
		runServer(logger, conf, *serverConfigLocation)
		return
	}

	// Determine output format (CLI override takes precedence over config)
	outputFormat := conf.Output.Format
	if *outputFormatFlag != "" {
		outputFormat = *outputFormatFlag
	}
	if outputFormat == "" {
		outputFormat = constants.OutputFormatPretty // Default to pretty format
	}

	err = validation.ValidateOutputFormat(outputFormat)
	if err != nil {
		logger.Fatal(err.Error(),
			zap.String("op", "main"),
		)
	}

	objective := conf.Objectives[0]
	if *objectiveFlag != "" {
		selected, ok := conf.Objective(*objectiveFlag)
		if !ok {
			logger.Fatal(fmt.Sprintf("unknown objective %q; configured: %v", *objectiveFlag, conf.ObjectiveNames()),
				zap.String("op", "main"),
			)
		}
		objective = selected
	}

	artifacts, err := artifact.Load(conf.Artifacts.Dir)
	if err != nil {
		logger.Fatal("failed to load artifacts",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	decision, err := engine.Run(logger, artifacts, objective, conf.EngineAssumptions(objective), time.Now())
	if err != nil {
		logger.Fatal("failed to compute decision",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	// Handle output.
	switch outputFormat {
	case constants.OutputFormatPretty:
		output.PrettyFormat(decision)
	case constants.OutputFormatCSV:
		output.CsvFormat(decision)
	case constants.OutputFormatJSON:
		bundle, err := output.JSONString(decision)
		if err != nil {
			logger.Fatal("failed to encode export bundle",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
		fmt.Print(bundle)
	}
}

func runServer(logger *zap.Logger, conf *config.Configuration, serverConfigLocation string) {
	serverConf, err := server.LoadConfig(serverConfigLocation)
	if err != nil {
		logger.Fatal("failed to load server configuration",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}

	ttl, err := cacheTTL(conf.Artifacts.CacheTTL)
	if err != nil {
		logger.Fatal("invalid artifact cache TTL",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
	cache := artifact.NewCache(conf.Artifacts.Dir, ttl)

	if conf.Artifacts.Watch {
		watcher, err := artifact.NewWatcher(cache, 0, logger)
		if err != nil {
			logger.Fatal("failed to start artifact watcher",
				zap.String("op", "main"),
				zap.Error(err),
			)
		}
		defer func() {
			_ = watcher.Close()
		}()
		go func() {
			if err := watcher.Watch(context.Background()); err != nil && err != context.Canceled {
				logger.Warn("artifact watcher stopped",
					zap.String("op", "main"),
					zap.Error(err),
				)
			}
		}()
	}

	handler := server.NewHandler(logger, conf, cache, serverConf, version)

	logger.Info("starting HTTP server",
		zap.String("op", "main"),
		zap.String("address", serverConf.Address),
	)
	if err := http.ListenAndServe(serverConf.Address, handler); err != nil {
		logger.Fatal("server terminated",
			zap.String("op", "main"),
			zap.Error(err),
		)
	}
}

func cacheTTL(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}
