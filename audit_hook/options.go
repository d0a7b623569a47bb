package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithActions records only the listed actions; see AllActions. Without it
// every action is recorded.
//
//	audithook.New(recorder, audithook.WithActions(
//	    audithook.ActionWorkflowFailed,
//	    audithook.ActionCircuitOpened,
//	))
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithLogger sets the logger used to report recorder failures. Nil keeps
// the default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) {
		if l != nil {
			e.logger = l
		}
	}
}
