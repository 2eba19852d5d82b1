package policy

// Mode defines the policy engine operating mode
type Mode string

const (
	// ModeOff disables policy evaluation entirely
	ModeOff Mode = "off"
	// ModeDryRun evaluates policies but doesn't enforce them (log only)
	ModeDryRun Mode = "dry-run"
	// ModeEnforce evaluates and enforces policies
	ModeEnforce Mode = "enforce"
)

// DecisionQuery is the rego query every policy bundle must answer.
const DecisionQuery = "data.clinicflow.step.decision"

// Config holds policy engine configuration
type Config struct {
	// Enabled controls whether the policy engine is active
	Enabled bool `mapstructure:"enabled"`

	// Mode controls policy enforcement behavior
	Mode Mode `mapstructure:"mode"`

	// Path to the directory containing .rego policy files
	Path string `mapstructure:"path"`

	// FailClosed denies steps when policies cannot be loaded or evaluated.
	FailClosed bool `mapstructure:"fail_closed"`
}

// DefaultConfig returns a disabled engine configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Mode:    ModeEnforce,
		Path:    "config/policies",
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeOff, ModeDryRun, ModeEnforce:
		return true
	}
	return false
}
