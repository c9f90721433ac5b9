// Package cli wires the weft command surface: run, generate, tools, config,
// and init.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/weaveline/weft/internal/config"
	"github.com/weaveline/weft/internal/store"
)

// Exit codes. 1 is a user error (bad arguments, missing file, validation
// failure); 2 is an execution failure.
const (
	ExitOK        = 0
	ExitUserError = 1
	ExitExecError = 2
)

// execFailure marks an error as an execution failure for exit-code mapping.
type execFailure struct {
	err error
}

func (e *execFailure) Error() string { return e.err.Error() }
func (e *execFailure) Unwrap() error { return e.err }

// App carries the shared state of one CLI invocation.
type App struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	configPath string
	verbose    bool
}

// Execute runs the CLI and returns the process exit code.
func Execute(args []string) int {
	app := &App{}
	root := app.rootCmd()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var ef *execFailure
		if errors.As(err, &ef) {
			return ExitExecError
		}
		return ExitUserError
	}
	return ExitOK
}

func (a *App) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "weft",
		Short:         "Local-first workflow automation",
		Long:          "weft runs user-authored workflows: DAGs of model calls, tools, and transforms.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = a.buildLogger()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to the configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		a.runCmd(),
		a.generateCmd(),
		a.toolsCmd(),
		a.configCmd(),
		a.initCmd(),
	)
	return root
}

// buildLogger writes structured logs to stderr so command output on stdout
// stays machine-readable.
func (a *App) buildLogger() *zap.SugaredLogger {
	level := zapcore.WarnLevel
	if a.verbose {
		level = zapcore.DebugLevel
	} else if parsed, err := zapcore.ParseLevel(a.cfg.LogLevel); err == nil && parsed > zapcore.WarnLevel {
		level = parsed
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core).Sugar()
}

// openStore selects the backend: postgres when databaseUrl is configured,
// badger under the data directory otherwise.
func (a *App) openStore(cmd *cobra.Command) (store.Store, error) {
	if a.cfg.DatabaseURL != "" {
		return store.OpenPostgres(cmd.Context(), a.cfg.DatabaseURL, a.logger)
	}
	dir, err := config.HomeDir()
	if err != nil {
		return nil, err
	}
	return store.OpenBadger(dir+"/store", a.logger)
}
