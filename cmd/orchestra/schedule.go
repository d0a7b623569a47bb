package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/orchestra/cron"
	"github.com/xraph/orchestra/workflow"
)

type scheduleOptions struct {
	expr     string
	duration time.Duration
}

func newScheduleCmd(a *app) *cobra.Command {
	var opts scheduleOptions
	cmd := &cobra.Command{
		Use:   "schedule FILE...",
		Short: "Run workflow files on a recurring cron schedule",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.schedule(cmd, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.expr, "cron", "", `cron expression or descriptor, e.g. "*/5 * * * *" or "@every 1m"`)
	cmd.Flags().DurationVar(&opts.duration, "for", 0, "stop after this long (0 = until interrupted)")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func (a *app) schedule(cmd *cobra.Command, paths []string, opts scheduleOptions) error {
	eng, err := a.buildEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer a.stop(eng)

	sched := cron.NewScheduler(eng.Execute, a.logger, cron.WithTickInterval(100*time.Millisecond))
	for _, path := range paths {
		def, err := workflow.LoadFile(path)
		if err != nil {
			return err
		}
		if err := eng.Validate(def); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := sched.Add(def.ID, opts.expr, def); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if opts.duration > 0 {
		var cancelFor context.CancelFunc
		ctx, cancelFor = context.WithTimeout(ctx, opts.duration)
		defer cancelFor()
	}

	if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancelStop := context.Background(), context.CancelFunc(func() {})
	if a.cfg.ShutdownTimeout > 0 {
		stopCtx, cancelStop = context.WithTimeout(stopCtx, a.cfg.ShutdownTimeout)
	}
	defer cancelStop()
	if err := sched.Stop(stopCtx); err != nil {
		a.logger.Warn("cron scheduler stop", slog.String("error", err.Error()))
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTRY\tFIRED\tSKIPPED\tLAST STATUS\tLAST ERROR")
	for _, e := range sched.Entries() {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", e.Name, e.Fired, e.Skipped, e.LastStatus, e.LastError)
	}
	return tw.Flush()
}
