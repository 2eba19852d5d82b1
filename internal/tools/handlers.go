package tools

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/clinicflow/internal/schema"
)

// Rejection is a business-rule refusal raised by a handler. The executor
// reports it as a failed result rather than as a backend error.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return r.Reason }

// Outcome is what a handler produced: the audited output value and the
// context keys it wants written.
type Outcome struct {
	Output        interface{}
	ContextWrites map[string]string
}

// Handler binds a function name to its backend call and its context effect.
type Handler struct {
	Name schema.FunctionName
	// Injects lists argument keys overwritten from the execution context
	// before validation.
	Injects []string
	// Writes lists the context keys the handler may set on success.
	Writes []string
	Invoke func(ctx context.Context, b Backend, args map[string]interface{}) (Outcome, error)
}

// Required returns the handler's mandatory argument keys.
func (h Handler) Required() []string {
	req, _ := schema.RequiredFields(h.Name)
	return req
}

// MayWrite reports whether key is among the handler's declared writes.
func (h Handler) MayWrite(key string) bool {
	for _, w := range h.Writes {
		if w == key {
			return true
		}
	}
	return false
}

var handlers = map[schema.FunctionName]Handler{
	schema.SearchPatient: {
		Name:   schema.SearchPatient,
		Writes: []string{schema.ContextPatientID},
		Invoke: func(ctx context.Context, b Backend, args map[string]interface{}) (Outcome, error) {
			p, err := b.SearchPatient(ctx, argString(args, "name"))
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{
				Output:        p,
				ContextWrites: map[string]string{schema.ContextPatientID: p.PatientID},
			}, nil
		},
	},
	schema.CheckInsuranceEligibility: {
		Name:    schema.CheckInsuranceEligibility,
		Injects: schema.ContextFields(schema.CheckInsuranceEligibility),
		Invoke: func(ctx context.Context, b Backend, args map[string]interface{}) (Outcome, error) {
			e, err := b.CheckInsuranceEligibility(ctx, argString(args, "patient_id"))
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Output: e}, nil
		},
	},
	schema.FindAvailableSlots: {
		Name:   schema.FindAvailableSlots,
		Writes: []string{schema.ContextSlotID},
		Invoke: func(ctx context.Context, b Backend, args map[string]interface{}) (Outcome, error) {
			specialty := argString(args, "specialty")
			slots, err := b.FindAvailableSlots(ctx, specialty, argString(args, "timeframe"))
			if err != nil {
				return Outcome{}, err
			}
			if len(slots) == 0 {
				return Outcome{}, &Rejection{Reason: fmt.Sprintf("No slots available for specialty '%s'", specialty)}
			}
			// Always take the best-ranked candidate.
			return Outcome{
				Output:        slots,
				ContextWrites: map[string]string{schema.ContextSlotID: slots[0].SlotID},
			}, nil
		},
	},
	schema.BookAppointment: {
		Name:    schema.BookAppointment,
		Injects: schema.ContextFields(schema.BookAppointment),
		Invoke: func(ctx context.Context, b Backend, args map[string]interface{}) (Outcome, error) {
			a, err := b.BookAppointment(ctx, argString(args, "patient_id"), argString(args, "slot_id"))
			if err != nil {
				return Outcome{}, err
			}
			return Outcome{Output: a}, nil
		},
	},
}

// Lookup returns the handler registered for name.
func Lookup(name schema.FunctionName) (Handler, bool) {
	h, ok := handlers[name]
	return h, ok
}

// Handlers returns the dispatch table keyed by function name.
func Handlers() map[schema.FunctionName]Handler {
	out := make(map[schema.FunctionName]Handler, len(handlers))
	for k, v := range handlers {
		out[k] = v
	}
	return out
}

func argString(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
