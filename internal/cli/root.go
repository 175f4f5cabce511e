// Package cli implements rxctl, the operator command line for the review
// service.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/drfirst/go-rxreview/internal/config"
	"github.com/drfirst/go-rxreview/internal/observability/logging"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// App carries the dependencies shared by every command
type App struct {
	FS     afero.Fs
	Out    io.Writer
	Err    io.Writer
	Logger *zap.Logger
	Config *config.Config

	output      string
	databaseURL string
	brokers     []string
	verbose     bool
}

// NewApp returns an App bound to the real filesystem and stdio
func NewApp() *App {
	return &App{FS: afero.NewOsFs(), Out: os.Stdout, Err: os.Stderr}
}

// NewRootCommand builds the rxctl command tree
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "rxctl",
		Short:         "Operate the prescription review service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init(cmd)
		},
	}
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	flags := root.PersistentFlags()
	flags.StringVarP(&app.output, "output", "o", FormatText, "output format: text, json or yaml")
	flags.StringVar(&app.databaseURL, "database-url", "", "audit database URL (default $DATABASE_URL)")
	flags.StringSliceVar(&app.brokers, "brokers", nil, "Kafka brokers (default $KAFKA_BROKERS)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newNormalizeCommand(app),
		newTopicsCommand(app),
		newAuditCommand(app),
	)
	return root
}

func (a *App) init(cmd *cobra.Command) error {
	switch a.output {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	if a.Config == nil {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	if a.databaseURL == "" {
		a.databaseURL = a.Config.DatabaseURL
	}
	if len(a.brokers) == 0 {
		a.brokers = a.Config.KafkaBrokers
	}

	if a.Logger == nil {
		level := "warn"
		if a.verbose {
			level = "debug"
		}
		logger, err := logging.New(level, "development")
		if err != nil {
			return err
		}
		a.Logger = logger
	}
	return nil
}

// render writes v in the selected format; text falls back to fn
func (a *App) render(v any, text func(w io.Writer) error) error {
	switch a.output {
	case FormatJSON:
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(a.Out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(a.Out)
	}
}

// Execute runs rxctl and returns the process exit code
func Execute() int {
	app := NewApp()
	if err := NewRootCommand(app).Execute(); err != nil {
		fmt.Fprintln(app.Err, "Error:", err)
		return 1
	}
	return 0
}
