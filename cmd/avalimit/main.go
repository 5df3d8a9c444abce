// Package main is the entry point for the avalimit rate limiting service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/avalimit/internal/config"
	"github.com/vyrodovalexey/avalimit/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	configPath, cfg, err := loadAndValidateConfig(flags.configPath, logger)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return
	}
	applyFlagOverrides(cfg, flags)

	app, err := newApplication(context.Background(), cfg)
	if err != nil {
		fatalWithSync(logger, "failed to initialize application", observability.Error(err))
		return
	}

	if err := run(app, configPath); err != nil {
		fatalWithSync(app.logger, "avalimit terminated", observability.Error(err))
	}
}

// parseFlags parses command line flags. Environment variables provide the
// defaults so containers can configure the binary without arguments.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("avalimit", flag.ContinueOnError)

	var flags cliFlags
	fs.StringVar(&flags.configPath, "config",
		getEnvOrDefault("AVALIMIT_CONFIG_PATH", "configs/avalimit.yaml"),
		"Path to configuration file")
	fs.StringVar(&flags.logLevel, "log-level", getEnvOrDefault("AVALIMIT_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides observability.log_level")
	fs.StringVar(&flags.logFormat, "log-format", getEnvOrDefault("AVALIMIT_LOG_FORMAT", ""),
		"Log format (json, console); overrides observability.log_format")
	fs.BoolVar(&flags.showVersion, "version", getEnvBool("AVALIMIT_SHOW_VERSION", false),
		"Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "avalimit version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the bootstrap logger used until the configuration
// is loaded.
func initLogger(flags cliFlags) observability.Logger {
	logCfg := observability.DefaultLogConfig()
	if flags.logLevel != "" {
		logCfg.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		logCfg.Format = flags.logFormat
	}

	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadAndValidateConfig resolves, loads and validates the configuration.
// It returns the resolved path so the watcher follows the same file.
func loadAndValidateConfig(configPath string, logger observability.Logger) (string, *config.Config, error) {
	logger.Info("starting avalimit",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	resolved, err := config.ResolveConfigPath(configPath)
	if err != nil {
		return "", nil, err
	}

	cfg, err := config.LoadConfig(resolved)
	if err != nil {
		return "", nil, err
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return "", nil, err
	}

	logger.Info("configuration loaded",
		observability.String("path", resolved),
		observability.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		observability.String("failure_mode", cfg.RateLimit.FailureMode),
		observability.Int("routes", len(cfg.RateLimit.Routes)),
	)

	return resolved, cfg, nil
}

// applyFlagOverrides lets -log-level and -log-format win over the file.
func applyFlagOverrides(cfg *config.Config, flags cliFlags) {
	if flags.logLevel != "" {
		cfg.Observability.LogLevel = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Observability.LogFormat = flags.logFormat
	}
}

// fatalWithSync logs at fatal level, which exits the process.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}
