package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Fixtures is the canned data served by MockBackend.
type Fixtures struct {
	DefaultPatient Patient            `yaml:"default_patient"`
	Patients       map[string]Patient `yaml:"patients"`
	Insurance      struct {
		Provider string `yaml:"provider"`
		Eligible bool   `yaml:"eligible"`
	} `yaml:"insurance"`
	Slots       []Slot      `yaml:"slots"`
	Appointment Appointment `yaml:"appointment"`
}

// DefaultFixtures returns the built-in demo data.
func DefaultFixtures() *Fixtures {
	f := &Fixtures{
		DefaultPatient: Patient{PatientID: "PAT001", DOB: "1992-04-10"},
		Patients:       map[string]Patient{},
		Slots: []Slot{
			{SlotID: "SLOT123", Doctor: "Dr. Sharma", Time: "2025-12-23 10:00"},
		},
		Appointment: Appointment{AppointmentID: "APT789", Status: "CONFIRMED"},
	}
	f.Insurance.Provider = "ABC Health"
	f.Insurance.Eligible = true
	return f
}

// LoadFixtures reads fixtures from a YAML file. Sections missing from the
// file keep their built-in defaults.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	f := DefaultFixtures()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("unmarshal fixtures %s: %w", path, err)
	}
	if f.DefaultPatient.PatientID == "" {
		return nil, fmt.Errorf("fixtures %s: default_patient.patient_id is required", path)
	}
	return f, nil
}

// MockBackend answers every operation from Fixtures without persistence.
type MockBackend struct {
	fixtures *Fixtures
	logger   *zap.Logger
}

// NewMockBackend creates a mock backend. A nil fixtures value uses DefaultFixtures.
func NewMockBackend(fixtures *Fixtures, logger *zap.Logger) *MockBackend {
	if fixtures == nil {
		fixtures = DefaultFixtures()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockBackend{fixtures: fixtures, logger: logger}
}

func (m *MockBackend) SearchPatient(ctx context.Context, name string) (Patient, error) {
	p := m.fixtures.DefaultPatient
	for key, candidate := range m.fixtures.Patients {
		if strings.EqualFold(strings.TrimSpace(key), strings.TrimSpace(name)) {
			p = candidate
			break
		}
	}
	p.Name = name
	m.logger.Debug("Mock patient lookup", zap.String("name", name), zap.String("patient_id", p.PatientID))
	return p, nil
}

func (m *MockBackend) CheckInsuranceEligibility(ctx context.Context, patientID string) (Eligibility, error) {
	return Eligibility{
		PatientID: patientID,
		Provider:  m.fixtures.Insurance.Provider,
		Eligible:  m.fixtures.Insurance.Eligible,
	}, nil
}

func (m *MockBackend) FindAvailableSlots(ctx context.Context, specialty, timeframe string) ([]Slot, error) {
	out := make([]Slot, 0, len(m.fixtures.Slots))
	for _, s := range m.fixtures.Slots {
		if s.Specialty == "" || strings.EqualFold(s.Specialty, strings.TrimSpace(specialty)) {
			out = append(out, s)
		}
	}
	m.logger.Debug("Mock slot search",
		zap.String("specialty", specialty),
		zap.String("timeframe", timeframe),
		zap.Int("matches", len(out)),
	)
	return out, nil
}

func (m *MockBackend) BookAppointment(ctx context.Context, patientID, slotID string) (Appointment, error) {
	return m.fixtures.Appointment, nil
}
