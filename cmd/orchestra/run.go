package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	audithook "github.com/xraph/orchestra/audit_hook"
	"github.com/xraph/orchestra/engine"
	"github.com/xraph/orchestra/id"
	"github.com/xraph/orchestra/stream"
	"github.com/xraph/orchestra/workflow"
)

type runOptions struct {
	watch    bool
	output   string
	auditLog string
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a workflow file and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0], opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "print lifecycle events while the workflow runs")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "result format: text or json")
	cmd.Flags().StringVar(&opts.auditLog, "audit-log", "", "append audit events as JSON lines to this file")
	return cmd
}

func (a *app) run(cmd *cobra.Command, path string, opts runOptions) error {
	if opts.output != "text" && opts.output != "json" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}
	def, err := workflow.LoadFile(path)
	if err != nil {
		return err
	}

	broker := stream.NewBroker(a.logger, stream.WithBufferSize(1024), stream.WithDefaultCredits(0))
	engOpts := []engine.Option{engine.WithExtension(broker)}
	if opts.auditLog != "" {
		f, err := os.OpenFile(opts.auditLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer f.Close()
		engOpts = append(engOpts, engine.WithExtension(
			audithook.New(audithook.NewJSONRecorder(f), audithook.WithLogger(a.logger)),
		))
	}

	eng, err := a.buildEngine(cmd.Context(), engOpts...)
	if err != nil {
		return err
	}
	defer a.stop(eng)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := cmd.OutOrStdout()
	var sub *stream.Subscriber
	if opts.watch {
		sub = broker.Subscribe(id.NewSubscriberID().String(), stream.TopicFirehose)
		defer broker.RemoveSubscriber(sub.ID())
	}

	var res *workflow.Result
	watchCtx, stopWatch := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopWatch()
		var execErr error
		res, execErr = eng.Execute(gctx, def)
		return execErr
	})
	if sub != nil {
		g.Go(func() error {
			printEvents(watchCtx, out, sub)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := printResult(out, res, opts.output); err != nil {
		return err
	}
	if res.Status == workflow.StatusFailed {
		return &exitError{code: 1, msg: "workflow failed"}
	}
	return nil
}

// printEvents writes one line per event until ctx is done, then drains
// what is already buffered.
func printEvents(ctx context.Context, w io.Writer, sub *stream.Subscriber) {
	for {
		evt, ok := sub.Next(ctx)
		if !ok {
			break
		}
		printEvent(w, evt)
	}
	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			printEvent(w, evt)
		default:
			return
		}
	}
}

func printEvent(w io.Writer, evt *stream.Event) {
	ts := evt.Timestamp.Format("15:04:05.000")
	switch evt.Type {
	case stream.EventStepStarted, stream.EventStepRetrying, stream.EventStepCompleted,
		stream.EventStepFailed, stream.EventStepSkipped:
		var d stream.StepEventData
		if err := evt.Decode(&d); err != nil {
			return
		}
		line := fmt.Sprintf("%s %-16s %s", ts, evt.Type, d.StepID)
		if d.Attempt > 0 {
			line += fmt.Sprintf(" attempt=%d", d.Attempt)
		}
		if d.DelayMs > 0 {
			line += fmt.Sprintf(" delay=%dms", d.DelayMs)
		}
		if d.Error != "" {
			line += " error=" + d.Error
		}
		fmt.Fprintln(w, line)
	case stream.EventCircuitStateChanged:
		var d stream.CircuitEventData
		if err := evt.Decode(&d); err != nil {
			return
		}
		fmt.Fprintf(w, "%s %-16s %s %s -> %s\n", ts, evt.Type, d.Target, d.From, d.To)
	default:
		var d stream.WorkflowEventData
		if err := evt.Decode(&d); err != nil {
			return
		}
		line := fmt.Sprintf("%s %-16s %s", ts, evt.Type, d.WorkflowID)
		if d.Status != "" {
			line += " status=" + d.Status
		}
		fmt.Fprintln(w, line)
	}
}

func printResult(w io.Writer, res *workflow.Result, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "workflow %s (%s): %s in %s\n", res.WorkflowID, res.RunID, res.Status, res.Elapsed)
	if res.Error != "" {
		fmt.Fprintf(w, "error: %s\n", res.Error)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTARGET\tSTATE\tATTEMPTS\tOUTPUT")
	for _, s := range res.Steps {
		detail := ""
		if s.State == workflow.StateCompleted {
			detail = fmt.Sprint(s.Output)
		} else if s.Error != "" {
			detail = s.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.StepID, s.Target, s.State, s.Attempts, detail)
	}
	return tw.Flush()
}
