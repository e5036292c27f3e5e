// Package identity persists the agent's attestation key identity: the
// hash and signing algorithm pair the key was created for, plus the
// opaque TPM execution context needed to reload it. The record lives in
// a single JSON file under the agent's working directory and is
// rewritten whenever the key is regenerated.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/galmasi/keylime-agent/algorithms"
)

// FileName is the record file name under the agent working directory.
const FileName = "tpmdata.json"

// ErrAbsent is returned by Load when no record file exists yet. This is
// an ordinary condition on first start, not a failure.
var ErrAbsent = errors.New("identity record not present")

// CorruptError is returned by Load when the record file exists but does
// not hold a well-formed record.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("identity record %s is not parseable: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Record is the persisted attestation key identity. AKContext is the
// serialized TPM key context, opaque to this package.
type Record struct {
	AKHashAlg algorithms.HashAlgorithm `json:"ak_hash_alg"`
	AKSignAlg algorithms.SignAlgorithm `json:"ak_sign_alg"`
	AKContext json.RawMessage          `json:"ak_context"`
}

// Load reads a record from path. Returns ErrAbsent when the file does
// not exist and a *CorruptError when its contents do not deserialize;
// callers treat both as "no usable identity yet".
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrAbsent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read identity record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}

	return &record, nil
}

// Store writes the record to path, creating or truncating the file. The
// output is indented JSON so regenerations diff cleanly.
func (r *Record) Store(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize identity record: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write identity record: %w", err)
	}

	return nil
}

// Valid reports whether the persisted identity was created for exactly
// the given algorithm pair. A mismatch means the caller must regenerate
// the key inside the TPM rather than reuse the stale identity.
func (r *Record) Valid(hashAlg algorithms.HashAlgorithm, signAlg algorithms.SignAlgorithm) bool {
	return r.AKHashAlg == hashAlg && r.AKSignAlg == signAlg
}
