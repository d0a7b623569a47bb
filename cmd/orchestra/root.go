package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/capability"
	"github.com/xraph/orchestra/capability/builtin"
	"github.com/xraph/orchestra/engine"
	"github.com/xraph/orchestra/store/postgres"
)

// app holds what every subcommand needs after configuration is loaded.
type app struct {
	v          *viper.Viper
	configPath string

	cfg     *fileConfig
	logger  *slog.Logger
	closers []func() error
}

func newRootCmd() *cobra.Command {
	a := &app{v: newViper()}

	root := &cobra.Command{
		Use:           "orchestra",
		Short:         "Validate and run workflow definitions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (YAML)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text or json")
	pf.Int("max-concurrency", 0, "maximum steps of one run executing at once (0 = unlimited)")
	pf.Duration("step-timeout", 30*time.Second, "default per-invocation timeout")
	pf.Duration("workflow-timeout", 0, "default whole-run timeout (0 = none)")
	pf.Int("max-attempts", 3, "default attempts per step, including the first")

	root.AddCommand(newRunCmd(a), newValidateCmd(a), newScheduleCmd(a))
	return root
}

// buildEngine creates an engine with the built-in capabilities.
func (a *app) buildEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	o, err := orchestra.New(
		orchestra.WithConfig(a.cfg.Config),
		orchestra.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}

	caps := capability.NewRegistry()
	builtin.Register(caps)
	caps.Register("http.get", builtin.NewHTTPGet(&http.Client{Timeout: a.cfg.DefaultStepTimeout}))

	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		s, err := postgres.New(ctx, dsn, postgres.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithStore(s))
	}
	if len(a.cfg.Throttle) > 0 {
		opts = append(opts, engine.WithThrottle(a.cfg.Throttle...))
	}
	return engine.Build(o, caps, opts...)
}

// stop shuts the engine down, bounded by the configured shutdown timeout.
func (a *app) stop(eng *engine.Engine) {
	if err := eng.Stop(context.Background()); err != nil {
		a.logger.Warn("engine stop", slog.String("error", err.Error()))
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
