package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moolen/lookout/internal/config"
	"github.com/moolen/lookout/internal/logging"
)

const Version = "0.1.0"

// defaultConfigFile is picked up from the working directory when --config
// is not given.
const defaultConfigFile = "lookout.yaml"

var (
	logLevelFlags []string // Supports multiple --log-level flags
	logFormat     string
	configPath    string
)

var rootCmd = &cobra.Command{
	Use:   "lookout",
	Short: "Lookout - conversational observability assistant",
	Long: `Lookout answers natural-language questions about a Dynatrace environment.
A top-level supervisor routes each question to domain teams (telemetry,
problems, security, devops) whose fetchers query the environment through the
Dynatrace MCP server and whose analysts interpret the results.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level supervisor=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level supervisor=debug --log-level gateway=warn")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log output format: console or json")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the YAML config file (default: ./"+defaultConfigFile+" when present)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(initCmd)
}

// HandleError prints error and exits
func HandleError(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file and loads it. The returned path is
// empty when running on defaults.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setupLog initializes the logging system with parsed log level flags
// Priority: CLI flags > Environment variables > Initialize default
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	if logFormat != "console" && logFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", logFormat)
	}
	logging.SetFormat(logFormat)
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags parses CLI flags and environment variables
// Priority: CLI flags > Environment variables
//
// CLI format: ["debug"], ["default=info", "supervisor=debug"], or ["info"]
// Env vars: LOG_LEVEL_API_TURNS=debug (package name uppercased, dots to underscores)
//
// Returns: (defaultLevel, packageLevels map, error)
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if !strings.HasPrefix(envPair, "LOG_LEVEL_") {
			continue
		}
		parts := strings.SplitN(envPair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		result[convertEnvKeyToPackageName(parts[0])] = parts[1]
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		result[parts[0]] = parts[1]
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}
	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}
	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_API_TURNS -> api.turns
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// validateLogLevel checks if a level string is valid
func validateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error, fatal)", level)
	}
	return nil
}
