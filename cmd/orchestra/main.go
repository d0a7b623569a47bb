// Command orchestra validates and runs workflow definition files.
//
//	orchestra validate workflows/*.yaml
//	orchestra run --watch workflows/digest.yaml
//	orchestra schedule --cron "@every 5m" workflows/digest.yaml
//
// Configuration is read from a YAML file (--config), ORCHESTRA_*
// environment variables and flags, in increasing precedence.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// exitError ends the process with a specific code after the command has
// already reported the failure.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }
