package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("model returned empty response")
	ErrNoJSONFound   = errors.New("no JSON found in model output")
	ErrMalformedJSON = errors.New("malformed JSON in model output")
	ErrMalformedPlan = errors.New("model output is not a valid plan")
)

// Extract pulls the JSON object out of raw model text. It takes everything
// between the first '{' and the last '}' so prose and markdown fences around
// the object are tolerated. Braces outside the object are not balanced.
func Extract(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyResponse
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, ErrNoJSONFound
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return obj, nil
}

// Kind returns a short label for a parse failure, used in metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyResponse):
		return "empty_response"
	case errors.Is(err, ErrNoJSONFound):
		return "no_json_found"
	case errors.Is(err, ErrMalformedJSON):
		return "malformed_json"
	case errors.Is(err, ErrMalformedPlan):
		return "malformed_plan"
	default:
		return "other"
	}
}
