package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/buildgrid/internal/app"
	"github.com/vk/buildgrid/internal/buildconfig"
)

// ExitError is an error carrying a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated Config, a
// boolean indicating the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("buildgrid", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
BuildGrid - analysis-phase evaluator for declarative build graphs.

Usage:
  buildgrid [options] [TARGET...]

Arguments:
  TARGET
    Labels of the targets to report, e.g. //app:server. All targets are
    reported when none are given.

Options:
`)
		flagSet.PrintDefaults()
	}

	buildFlag := flagSet.String("build", "", "Path to the workspace root containing BUILD.hcl files.")
	rulesPathFlag := flagSet.String("rules-path", "rules", "Path to the directory containing rule-class manifests.")
	configFlag := flagSet.String("config", "", "Path to an HCL file declaring configuration fragments.")
	allowFailuresFlag := flagSet.Bool("allow-analysis-failures", false, "Tolerate rule analysis errors and produce stub results.")
	fragmentModeFlag := flagSet.String("fragment-mode", "off", "Required-fragment tracking. Options: 'off', 'direct', or 'transitive'.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 10, "Number of concurrent workers for the graph run.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	if *buildFlag == "" {
		slog.Debug("No workspace path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	fragmentMode, err := buildconfig.ParseFragmentMode(strings.ToLower(*fragmentModeFlag))
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		BuildPath:             *buildFlag,
		RulesPath:             *rulesPathFlag,
		ConfigPath:            *configFlag,
		Targets:               flagSet.Args(),
		AllowAnalysisFailures: *allowFailuresFlag,
		FragmentMode:          fragmentMode,
		LogFormat:             logFormat,
		LogLevel:              logLevel,
		WorkerCount:           *workersFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.")
	return config, false, nil
}
