package dispatch

import (
	"fmt"

	"github.com/dmitrymomot/modserve/pkg/luamod"
)

// Outcome is the result of one handler invocation: Continue or Abort.
type Outcome interface {
	outcome()
}

// Continue carries the numeric result of a handler that returned normally.
type Continue struct {
	Result int
}

// Abort stops the handler chain with an HTTP status.
type Abort struct {
	Status int
	Body   string
}

func (Continue) outcome() {}
func (Abort) outcome()    {}

// Next reports whether the dispatcher moves on to the next handler.
func (c Continue) Next() bool { return c.Result == luamod.OK }

func (c Continue) String() string {
	switch c.Result {
	case luamod.OK:
		return "OK"
	case luamod.DECLINED:
		return "DECLINED"
	case luamod.DONE:
		return "DONE"
	default:
		return fmt.Sprintf("status %d", c.Result)
	}
}

func (a Abort) String() string { return fmt.Sprintf("abort %d", a.Status) }

// outcomeOf converts a handler's return value. Numbers are truncated to
// int; anything else is ErrNoResult.
func outcomeOf(v any) (Outcome, error) {
	switch n := v.(type) {
	case float64:
		return Continue{Result: int(n)}, nil
	case int:
		return Continue{Result: n}, nil
	}
	return nil, fmt.Errorf("%w: got %T", ErrNoResult, v)
}
