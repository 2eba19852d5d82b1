package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredFields(t *testing.T) {
	tests := []struct {
		name     FunctionName
		expected []string
	}{
		{SearchPatient, []string{"name"}},
		{CheckInsuranceEligibility, []string{"patient_id"}},
		{FindAvailableSlots, []string{"specialty", "timeframe"}},
		{BookAppointment, []string{"patient_id", "slot_id"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			got, ok := RequiredFields(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRequiredFieldsUnknown(t *testing.T) {
	for _, name := range []FunctionName{"", "delete_patient", "Search_Patient"} {
		got, ok := RequiredFields(name)
		assert.False(t, ok, "name %q", name)
		assert.Nil(t, got)
		assert.False(t, IsKnown(name))
	}
}

func TestRequiredFieldsReturnsCopy(t *testing.T) {
	got, _ := RequiredFields(BookAppointment)
	got[0] = "mutated"

	again, _ := RequiredFields(BookAppointment)
	assert.Equal(t, "patient_id", again[0])
}

func TestContextFields(t *testing.T) {
	assert.Nil(t, ContextFields(SearchPatient))
	assert.Nil(t, ContextFields(FindAvailableSlots))
	assert.Equal(t, []string{ContextPatientID}, ContextFields(CheckInsuranceEligibility))
	assert.Equal(t, []string{ContextPatientID, ContextSlotID}, ContextFields(BookAppointment))
	assert.Nil(t, ContextFields("unknown"))
}

func TestDescribeCoversEveryFunction(t *testing.T) {
	descs := Describe()
	require.Len(t, descs, len(Functions()))
	for i, name := range Functions() {
		assert.Equal(t, name, descs[i].Name)
		assert.NotEmpty(t, descs[i].RequiredFields)
	}
}
