package executor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Kocoro-lab/clinicflow/internal/schema"
)

// Status is the terminal state of one plan execution.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// AuditEntry records one executed step with its post-injection arguments.
type AuditEntry struct {
	Function  schema.FunctionName    `json:"function"`
	Arguments map[string]interface{} `json:"arguments"`
	Output    interface{}            `json:"output"`
}

// Result is the externally visible outcome of a run. A successful result
// carries the audit log; a failed one carries only the reason.
type Result struct {
	Status    Status       `json:"status"`
	AuditLog  []AuditEntry `json:"audit_log,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// Succeeded reports whether every step ran.
func (r *Result) Succeeded() bool { return r != nil && r.Status == StatusSuccess }

// MarshalJSON always emits audit_log for SUCCESS, even when the plan was
// empty, and never for FAILED.
func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Status    Status        `json:"status"`
		AuditLog  *[]AuditEntry `json:"audit_log,omitempty"`
		Reason    string        `json:"reason,omitempty"`
		RequestID string        `json:"request_id,omitempty"`
	}
	w := wire{Status: r.Status, Reason: r.Reason, RequestID: r.RequestID}
	if r.Status == StatusSuccess {
		log := r.AuditLog
		if log == nil {
			log = []AuditEntry{}
		}
		w.AuditLog = &log
	}
	return json.Marshal(w)
}

// ErrUndeclaredContextWrite is wrapped in a BackendError when a handler sets
// a context key outside its declared writes.
var ErrUndeclaredContextWrite = errors.New("undeclared context write")

// BackendError is returned when a backend operation fails outright. It is
// not downgraded to a FAILED result.
type BackendError struct {
	Function schema.FunctionName
	Step     int
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend operation %s failed at step %d: %v", e.Function, e.Step, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
