package policy

import (
	"context"
	"sync/atomic"
)

// Holder is an Engine whose underlying engine can be replaced at run time,
// e.g. after a configuration reload. A Holder with no engine allows every step.
type Holder struct {
	current atomic.Pointer[engineBox]
}

type engineBox struct{ Engine }

// NewHolder wraps engine, which may be nil.
func NewHolder(engine Engine) *Holder {
	h := &Holder{}
	h.Swap(engine)
	return h
}

// Swap installs engine and returns the previous one.
func (h *Holder) Swap(engine Engine) Engine {
	old := h.current.Swap(&engineBox{engine})
	if old == nil {
		return nil
	}
	return old.Engine
}

func (h *Holder) load() Engine {
	if b := h.current.Load(); b != nil {
		return b.Engine
	}
	return nil
}

func (h *Holder) Evaluate(ctx context.Context, input *StepInput) (*Decision, error) {
	if e := h.load(); e != nil {
		return e.Evaluate(ctx, input)
	}
	return &Decision{Allow: true, Reason: "policy engine disabled or no policies loaded"}, nil
}

func (h *Holder) IsEnabled() bool {
	e := h.load()
	return e != nil && e.IsEnabled()
}

func (h *Holder) Mode() Mode {
	if e := h.load(); e != nil {
		return e.Mode()
	}
	return ModeOff
}
