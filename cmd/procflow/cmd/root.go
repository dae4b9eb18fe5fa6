// Package cmd implements the procflow command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/petrijr/procflow/internal/callback"
	"github.com/petrijr/procflow/internal/config"
	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/logging"
	"github.com/petrijr/procflow/internal/onboarding"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersion records build information shown by the version command.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// Execute runs the procflow command line.
func Execute() error {
	return NewRootCmd().Execute()
}

// app is the state shared by all subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	output  string

	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "procflow",
		Short: "Process step execution engine",
		Long: `procflow drives long-running business processes step by step.

Workers poll the store for processes with pending steps and execute them;
external systems resolve steps that wait for them through the callback
server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./procflow.yaml or ~/.config/procflow/procflow.yaml)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "auto", "log format (auto, text, json)")
	pf.String("store-driver", "sqlite", "store driver (memory, sqlite, postgres, redis, bolt)")
	pf.String("store-dsn", "procflow.db", "store file path, connection string or URL")
	pf.StringVarP(&a.output, "output", "o", "text", "output format (text, json, yaml)")

	// errors are nil when the flag exists
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = a.v.BindPFlag("store.driver", pf.Lookup("store-driver"))
	_ = a.v.BindPFlag("store.dsn", pf.Lookup("store-dsn"))

	root.AddCommand(
		newWorkerCmd(a),
		newProcessCmd(a),
		newCallbackCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	switch a.output {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.NewLoaderWithViper(a.v).WithConfigFile(a.cfgFile).Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) openStore(ctx context.Context) (persistence.Store, error) {
	store, err := config.OpenStore(ctx, a.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Store.Driver, err)
	}
	return store, nil
}

func (a *app) partnerClient() onboarding.PartnerClient {
	if a.cfg.Partner.URL == "" {
		return onboarding.DryRunClient{Logger: a.logger}
	}
	return onboarding.NewHTTPClient(a.cfg.Partner.URL, &http.Client{Timeout: a.cfg.Partner.Timeout})
}

func (a *app) newEngine(observers ...api.Observer) (*engine.ProcessExecutor, error) {
	obs := append([]api.Observer{api.NewLoggingObserver(a.logger)}, observers...)
	return engine.New(
		[]api.ProcessTypeExecutor{onboarding.NewExecutor(a.partnerClient())},
		engine.WithLogger(a.logger),
		engine.WithObserver(api.NewCompositeObserver(obs...)),
	)
}

func transitions() callback.Transitions {
	return callback.Transitions{
		onboarding.ProcessTypeID: onboarding.Transitions(),
	}
}

func (a *app) print(w io.Writer, v any, text func(io.Writer) error) error {
	return writeOutput(w, a.output, v, text)
}
