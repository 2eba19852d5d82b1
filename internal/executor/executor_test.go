package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/clinicflow/internal/plan"
	"github.com/Kocoro-lab/clinicflow/internal/policy"
	"github.com/Kocoro-lab/clinicflow/internal/schema"
	"github.com/Kocoro-lab/clinicflow/internal/tools"
)

type args = map[string]interface{}

func step(fn schema.FunctionName, a args) plan.Step {
	if a == nil {
		a = args{}
	}
	return plan.Step{Function: fn, Arguments: a}
}

func newExecutor(t *testing.T) *Executor {
	return New(tools.NewMockBackend(nil, zaptest.NewLogger(t)), nil, zaptest.NewLogger(t))
}

func fourStepPlan() *plan.Plan {
	return &plan.Plan{Steps: []plan.Step{
		step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
		step(schema.FindAvailableSlots, args{"specialty": "cardiology", "timeframe": "next week"}),
		step(schema.CheckInsuranceEligibility, args{"patient_id": schema.ContextSentinel}),
		step(schema.BookAppointment, args{"patient_id": schema.ContextSentinel, "slot_id": schema.ContextSentinel}),
	}}
}

func TestExecuteFullBooking(t *testing.T) {
	res, err := newExecutor(t).Execute(context.Background(), fourStepPlan(), WithRequestID("req-1"))
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Len(t, res.AuditLog, 4)
	assert.Equal(t, "req-1", res.RequestID)
	assert.Empty(t, res.Reason)

	last := res.AuditLog[3]
	assert.Equal(t, schema.BookAppointment, last.Function)
	appt, ok := last.Output.(tools.Appointment)
	require.True(t, ok)
	assert.Equal(t, "CONFIRMED", appt.Status)
	assert.Equal(t, "APT789", appt.AppointmentID)
	assert.Equal(t, args{"patient_id": "PAT001", "slot_id": "SLOT123"}, last.Arguments)
}

func TestExecuteInjectionIgnoresModelValues(t *testing.T) {
	for _, supplied := range []interface{}{nil, schema.ContextSentinel, "PAT999", 42} {
		p := &plan.Plan{Steps: []plan.Step{
			step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
			step(schema.FindAvailableSlots, args{"specialty": "cardiology", "timeframe": "soon"}),
			step(schema.CheckInsuranceEligibility, args{"patient_id": supplied}),
			step(schema.BookAppointment, args{"patient_id": supplied, "slot_id": supplied}),
		}}
		res, err := newExecutor(t).Execute(context.Background(), p)
		require.NoError(t, err)
		require.True(t, res.Succeeded(), "supplied %v", supplied)

		assert.Equal(t, "PAT001", res.AuditLog[2].Arguments["patient_id"])
		assert.Equal(t, "PAT001", res.AuditLog[3].Arguments["patient_id"])
		assert.Equal(t, "SLOT123", res.AuditLog[3].Arguments["slot_id"])
	}
}

func TestExecuteDoesNotMutatePlan(t *testing.T) {
	p := fourStepPlan()
	_, err := newExecutor(t).Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, schema.ContextSentinel, p.Steps[2].Arguments["patient_id"])
}

func TestExecuteSearchFeedsInsurance(t *testing.T) {
	fixtures := tools.DefaultFixtures()
	fixtures.Patients["Ravi Kumar"] = tools.Patient{PatientID: "PAT042", DOB: "1980-01-01"}
	e := New(tools.NewMockBackend(fixtures, nil), nil, zaptest.NewLogger(t))

	res, err := e.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{
		step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
		step(schema.CheckInsuranceEligibility, args{"patient_id": schema.ContextSentinel}),
	}})
	require.NoError(t, err)
	require.True(t, res.Succeeded())

	patient := res.AuditLog[0].Output.(tools.Patient)
	assert.Equal(t, "PAT042", patient.PatientID)
	assert.Equal(t, patient.PatientID, res.AuditLog[1].Arguments["patient_id"])
	assert.Equal(t, "PAT042", res.AuditLog[1].Output.(tools.Eligibility).PatientID)
}

func TestExecuteBookingWithEmptyContext(t *testing.T) {
	var events []StepEvent
	res, err := newExecutor(t).Execute(context.Background(),
		&plan.Plan{Steps: []plan.Step{step(schema.BookAppointment, nil)}},
		WithObserver(func(ev StepEvent) { events = append(events, ev) }),
	)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Missing field 'patient_id' for function 'book_appointment'", res.Reason)
	assert.Nil(t, res.AuditLog)

	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0].Status)
	assert.Equal(t, args{"patient_id": nil, "slot_id": nil}, events[0].Arguments)
}

func TestExecuteUnknownFunctionHalts(t *testing.T) {
	backend := &countingBackend{Backend: tools.NewMockBackend(nil, nil)}
	e := New(backend, nil, zaptest.NewLogger(t))

	res, err := e.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{
		step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
		step("cancel_appointment", args{"appointment_id": "APT789"}),
		step(schema.FindAvailableSlots, args{"specialty": "cardiology", "timeframe": "soon"}),
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Unknown function cancel_appointment", res.Reason)
	assert.Equal(t, 1, backend.calls, "no step after the failure is dispatched")
}

func TestExecuteMissingFunctionName(t *testing.T) {
	res, err := newExecutor(t).Execute(context.Background(), &plan.Plan{Steps: []plan.Step{{Arguments: args{}}}})
	require.NoError(t, err)
	assert.Contains(t, res.Reason, "Unknown function")
}

func TestExecuteMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		step   plan.Step
		reason string
	}{
		{"absent", step(schema.SearchPatient, nil), "Missing field 'name' for function 'search_patient'"},
		{"null", step(schema.SearchPatient, args{"name": nil}), "Missing field 'name' for function 'search_patient'"},
		{"blank", step(schema.SearchPatient, args{"name": "  "}), "Missing field 'name' for function 'search_patient'"},
		{"second field", step(schema.FindAvailableSlots, args{"specialty": "cardiology"}), "Missing field 'timeframe' for function 'find_available_slots'"},
		{"insurance without search", step(schema.CheckInsuranceEligibility, args{"patient_id": "PAT001"}), "Missing field 'patient_id' for function 'check_insurance_eligibility'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := newExecutor(t).Execute(context.Background(), &plan.Plan{Steps: []plan.Step{tt.step}})
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestExecuteNoSlotsFails(t *testing.T) {
	fixtures := tools.DefaultFixtures()
	fixtures.Slots = []tools.Slot{{SlotID: "SLOT9", Doctor: "Dr. Rao", Time: "2025-12-24 09:00", Specialty: "dermatology"}}
	e := New(tools.NewMockBackend(fixtures, nil), nil, zaptest.NewLogger(t))

	res, err := e.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{
		step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
		step(schema.FindAvailableSlots, args{"specialty": "cardiology", "timeframe": "next week"}),
		step(schema.BookAppointment, args{"patient_id": schema.ContextSentinel, "slot_id": schema.ContextSentinel}),
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "No slots available for specialty 'cardiology'", res.Reason)
}

func TestExecuteEmptyPlanSucceeds(t *testing.T) {
	res, err := newExecutor(t).Execute(context.Background(), &plan.Plan{})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"SUCCESS","audit_log":[]}`, string(data))
}

func TestExecuteBackendError(t *testing.T) {
	boom := errors.New("scheduling service down")
	backend := &countingBackend{Backend: tools.NewMockBackend(nil, nil), slotsErr: boom}
	e := New(backend, nil, zaptest.NewLogger(t))

	res, err := e.Execute(context.Background(), fourStepPlan())
	assert.Nil(t, res)

	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, schema.FindAvailableSlots, be.Function)
	assert.Equal(t, 1, be.Step)
	assert.True(t, errors.Is(err, boom))
}

func TestExecuteRejectsUndeclaredContextWrite(t *testing.T) {
	e := newExecutor(t)
	h := e.handlers[schema.SearchPatient]
	invoke := h.Invoke
	h.Invoke = func(ctx context.Context, b tools.Backend, a map[string]interface{}) (tools.Outcome, error) {
		out, err := invoke(ctx, b, a)
		out.ContextWrites[schema.ContextSlotID] = "SLOT999"
		return out, err
	}
	e.handlers[schema.SearchPatient] = h

	result, err := e.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{
		step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
		step(schema.BookAppointment, nil),
	}})
	assert.Nil(t, result)
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, schema.SearchPatient, be.Function)
	assert.Equal(t, 0, be.Step)
	assert.True(t, errors.Is(err, ErrUndeclaredContextWrite))
}

func TestExecuteInjectsDeclaredKeysOnly(t *testing.T) {
	e := newExecutor(t)
	h := e.handlers[schema.BookAppointment]
	h.Injects = []string{schema.ContextPatientID}
	e.handlers[schema.BookAppointment] = h

	result, err := e.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{
		step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
		step(schema.BookAppointment, args{"patient_id": "PAT999", "slot_id": "SLOT777"}),
	}})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	booked := result.AuditLog[1].Arguments
	assert.Equal(t, "PAT001", booked["patient_id"])
	assert.Equal(t, "SLOT777", booked["slot_id"])
}

func TestExecutePolicyGate(t *testing.T) {
	src := `package clinicflow.step

default decision := {"allow": true}

decision := {"allow": false, "reason": "insurance not verified"} {
    input.function == "book_appointment"
    not verified
}

verified {
    input.executed[_] == "check_insurance_eligibility"
}
`
	engine, err := policy.NewOPAEngineFromModules(policy.Config{Mode: policy.ModeEnforce}, map[string]string{"step.rego": src}, zaptest.NewLogger(t))
	require.NoError(t, err)
	e := New(tools.NewMockBackend(nil, nil), engine, zaptest.NewLogger(t))

	res, err := e.Execute(context.Background(), &plan.Plan{Steps: []plan.Step{
		step(schema.SearchPatient, args{"name": "Ravi Kumar"}),
		step(schema.FindAvailableSlots, args{"specialty": "cardiology", "timeframe": "soon"}),
		step(schema.BookAppointment, args{"patient_id": schema.ContextSentinel, "slot_id": schema.ContextSentinel}),
	}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "Policy denied 'book_appointment': insurance not verified", res.Reason)

	res, err = e.Execute(context.Background(), fourStepPlan())
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
}

func TestExecuteObserverSeesEverySuccessfulStep(t *testing.T) {
	var seen []schema.FunctionName
	res, err := newExecutor(t).Execute(context.Background(), fourStepPlan(), WithObserver(func(ev StepEvent) {
		assert.Equal(t, "ok", ev.Status)
		assert.Equal(t, len(seen), ev.Index)
		seen = append(seen, ev.Function)
	}))
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	assert.Equal(t, []schema.FunctionName{
		schema.SearchPatient, schema.FindAvailableSlots, schema.CheckInsuranceEligibility, schema.BookAppointment,
	}, seen)
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(&Result{Status: StatusFailed, Reason: "Unknown function x", AuditLog: []AuditEntry{{Function: "search_patient"}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"FAILED","reason":"Unknown function x"}`, string(data))
}

func TestContextSnapshotIsCopy(t *testing.T) {
	c := NewContext()
	c.Set(schema.ContextPatientID, "PAT001")
	snap := c.Snapshot()
	snap[schema.ContextPatientID] = "PAT999"

	v, ok := c.Get(schema.ContextPatientID)
	assert.True(t, ok)
	assert.Equal(t, "PAT001", v)
	_, ok = c.Get(schema.ContextSlotID)
	assert.False(t, ok)
}

type countingBackend struct {
	tools.Backend
	calls    int
	slotsErr error
}

func (b *countingBackend) SearchPatient(ctx context.Context, name string) (tools.Patient, error) {
	b.calls++
	return b.Backend.SearchPatient(ctx, name)
}

func (b *countingBackend) FindAvailableSlots(ctx context.Context, specialty, timeframe string) ([]tools.Slot, error) {
	b.calls++
	if b.slotsErr != nil {
		return nil, b.slotsErr
	}
	return b.Backend.FindAvailableSlots(ctx, specialty, timeframe)
}
