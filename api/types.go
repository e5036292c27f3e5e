// Package api defines the JSON response envelope and version types of
// the agent's attestation API.
package api

import (
	"encoding/json"
	"fmt"
)

// Version is a parsed attestation API version.
type Version struct {
	Major uint32 `json:"major"`
	Minor uint32 `json:"minor"`
}

// String renders the version the way it appears on the wire, e.g. "v2.0".
func (v Version) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// JSONWrapper is the response envelope every agent endpoint uses.
type JSONWrapper struct {
	Code    uint16          `json:"code"`
	Status  string          `json:"status"`
	Results json.RawMessage `json:"results"`
}

// Success wraps results into a 200 envelope.
func Success(results any) (JSONWrapper, error) {
	data, err := json.Marshal(results)
	if err != nil {
		return JSONWrapper{}, fmt.Errorf("failed to serialize results: %w", err)
	}
	return JSONWrapper{Code: 200, Status: "Success", Results: data}, nil
}

// Error wraps a failure status into an envelope with empty results.
func Error(code uint16, status string) JSONWrapper {
	return JSONWrapper{Code: code, Status: status, Results: json.RawMessage(`{}`)}
}
