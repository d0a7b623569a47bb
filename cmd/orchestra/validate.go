package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/workflow"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check workflow files without running them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.buildEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer a.stop(eng)

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				def, err := workflow.LoadFile(path)
				if err == nil {
					err = eng.Validate(def)
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s: invalid: %v\n", path, err)
					var ve *orchestra.ValidationError
					if errors.As(err, &ve) && len(ve.Cycle) > 0 {
						fmt.Fprintf(out, "  cycle: %v\n", ve.Cycle)
					}
					continue
				}
				fmt.Fprintf(out, "%s: ok (%d steps, mode %s)\n", path, len(def.Steps), def.Clone().Mode)
			}

			if failed > 0 {
				return &exitError{code: 2, msg: fmt.Sprintf("%d of %d files invalid", failed, len(args))}
			}
			return nil
		},
	}
}
