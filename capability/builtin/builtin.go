// Package builtin provides general-purpose capabilities used by the
// orchestra CLI and by tests.
package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/orchestra"
	"github.com/xraph/orchestra/capability"
)

// Register binds every built-in capability into r:
//
//	echo      returns its input unchanged
//	upper     upper-cases its input
//	join      joins non-empty input lines with ", "
//	sleep     waits for the duration given as input, then echoes it
//	fail      fails with the kind named by its input
//	http.get  fetches the URL given as input
func Register(r *capability.Registry) {
	r.Register("echo", capability.Func(Echo))
	r.Register("upper", capability.Func(Upper))
	r.Register("join", capability.Func(Join))
	r.Register("sleep", capability.Func(Sleep))
	r.Register("fail", capability.Func(Fail))
	r.Register("http.get", NewHTTPGet(nil))
}

// Echo returns input unchanged.
func Echo(_ context.Context, input string) (any, error) {
	return input, nil
}

// Upper returns input in upper case.
func Upper(_ context.Context, input string) (any, error) {
	return strings.ToUpper(input), nil
}

// Join joins the non-empty trimmed lines of input with ", ".
func Join(_ context.Context, input string) (any, error) {
	var parts []string
	for _, line := range strings.Split(input, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, ", "), nil
}

// Sleep parses input as a time.Duration and waits for it or for ctx.
func Sleep(ctx context.Context, input string) (any, error) {
	d, err := time.ParseDuration(strings.TrimSpace(input))
	if err != nil {
		return nil, orchestra.InvalidInput(fmt.Errorf("sleep: %w", err))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return d.String(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fail always fails. The input names the failure kind ("unavailable",
// "rate_limited", "transient", "invalid_input", "unauthorized"); anything
// else fails unclassified.
func Fail(_ context.Context, input string) (any, error) {
	kind := orchestra.ErrorKind(strings.TrimSpace(input))
	err := errors.New("fail: " + string(kind))
	switch kind {
	case orchestra.KindUnavailable:
		return nil, orchestra.Unavailable(err)
	case orchestra.KindRateLimited:
		return nil, orchestra.RateLimited(err)
	case orchestra.KindTransient:
		return nil, orchestra.Transient(err)
	case orchestra.KindInvalidInput:
		return nil, orchestra.InvalidInput(err)
	case orchestra.KindUnauthorized:
		return nil, orchestra.Unauthorized(err)
	default:
		return nil, err
	}
}
