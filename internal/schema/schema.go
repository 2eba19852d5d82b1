package schema

// FunctionName identifies one of the backend operations a plan step may call.
type FunctionName string

const (
	SearchPatient             FunctionName = "search_patient"
	CheckInsuranceEligibility FunctionName = "check_insurance_eligibility"
	FindAvailableSlots        FunctionName = "find_available_slots"
	BookAppointment           FunctionName = "book_appointment"
)

// Context keys written during execution and injected into later steps.
const (
	ContextPatientID = "patient_id"
	ContextSlotID    = "slot_id"
)

// ContextSentinel is the placeholder the model must use for identifiers it
// is not allowed to author.
const ContextSentinel = "FROM_CONTEXT"

type entry struct {
	required []string
	injected []string
}

// registry is static; callers receive copies of its slices.
var registry = map[FunctionName]entry{
	SearchPatient: {
		required: []string{"name"},
	},
	CheckInsuranceEligibility: {
		required: []string{"patient_id"},
		injected: []string{ContextPatientID},
	},
	FindAvailableSlots: {
		required: []string{"specialty", "timeframe"},
	},
	BookAppointment: {
		required: []string{"patient_id", "slot_id"},
		injected: []string{ContextPatientID, ContextSlotID},
	},
}

// order fixes the listing order used by Functions and prompts.
var order = []FunctionName{
	SearchPatient,
	CheckInsuranceEligibility,
	FindAvailableSlots,
	BookAppointment,
}

// RequiredFields returns the ordered mandatory argument keys for name.
// The boolean is false when name is not a known function.
func RequiredFields(name FunctionName) ([]string, bool) {
	e, ok := registry[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(e.required))
	copy(out, e.required)
	return out, true
}

// ContextFields returns the argument keys of name that are always taken from
// the execution context, never from the model.
func ContextFields(name FunctionName) []string {
	e, ok := registry[name]
	if !ok || len(e.injected) == 0 {
		return nil
	}
	out := make([]string, len(e.injected))
	copy(out, e.injected)
	return out
}

// IsKnown reports whether name is registered.
func IsKnown(name FunctionName) bool {
	_, ok := registry[name]
	return ok
}

// Functions lists every registered function in a stable order.
func Functions() []FunctionName {
	out := make([]FunctionName, len(order))
	copy(out, order)
	return out
}

// Descriptor is the serializable view of one registry entry.
type Descriptor struct {
	Name           FunctionName `json:"name"`
	RequiredFields []string     `json:"required_fields"`
	ContextFields  []string     `json:"context_fields,omitempty"`
}

// Describe returns descriptors for all functions in registry order.
func Describe() []Descriptor {
	out := make([]Descriptor, 0, len(order))
	for _, name := range order {
		req, _ := RequiredFields(name)
		out = append(out, Descriptor{
			Name:           name,
			RequiredFields: req,
			ContextFields:  ContextFields(name),
		})
	}
	return out
}
