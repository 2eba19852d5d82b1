package tools

import (
	"context"
)

// Patient is the result of a patient lookup.
type Patient struct {
	PatientID string `json:"patient_id" yaml:"patient_id"`
	Name      string `json:"name" yaml:"name"`
	DOB       string `json:"dob" yaml:"dob"`
}

// Eligibility is the result of an insurance eligibility check.
type Eligibility struct {
	PatientID string `json:"patient_id" yaml:"patient_id"`
	Provider  string `json:"provider" yaml:"provider"`
	Eligible  bool   `json:"eligible" yaml:"eligible"`
}

// Slot is one bookable appointment candidate. Specialty only scopes fixture
// matching and is not part of the operation output.
type Slot struct {
	SlotID    string `json:"slot_id" yaml:"slot_id"`
	Doctor    string `json:"doctor" yaml:"doctor"`
	Time      string `json:"time" yaml:"time"`
	Specialty string `json:"-" yaml:"specialty"`
}

// Appointment is the result of a booking.
type Appointment struct {
	AppointmentID string `json:"appointment_id" yaml:"appointment_id"`
	Status        string `json:"status" yaml:"status"`
}

// Backend is the set of operations a plan may invoke. Implementations may
// block on I/O and should honor ctx.
type Backend interface {
	SearchPatient(ctx context.Context, name string) (Patient, error)
	CheckInsuranceEligibility(ctx context.Context, patientID string) (Eligibility, error)
	// FindAvailableSlots returns candidates ordered best first.
	FindAvailableSlots(ctx context.Context, specialty, timeframe string) ([]Slot, error)
	BookAppointment(ctx context.Context, patientID, slotID string) (Appointment, error)
}
