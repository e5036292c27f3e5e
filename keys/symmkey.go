// Package keys implements the symmetric key material the agent receives
// from its tenant and verifier. Payload keys arrive as two independent
// shares (U from the tenant, V from the verifier) that are combined by
// XOR into the bootstrap key; the package enforces key lengths at
// construction so a malformed share can never reach the payload
// decryption path.
package keys

import "fmt"

const (
	// AES128KeySize is the byte length of an AES-128 key.
	AES128KeySize = 16
	// AES256KeySize is the byte length of an AES-256 key.
	AES256KeySize = 32
)

// LengthError reports key material of a length that is not a valid AES
// key size.
type LengthError struct {
	Length int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("key length %d does not correspond to a valid AES key", e.Length)
}

// MismatchError reports an attempt to combine keys of differing lengths.
type MismatchError struct {
	A, B int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("cannot combine keys of differing lengths %d and %d", e.A, e.B)
}

// SymmKey is an AES-128 or AES-256 key. Its length is validated at
// construction and never changes.
type SymmKey struct {
	bytes []byte
}

// KeySet holds the key shares received so far for one bootstrap key.
type KeySet = []*SymmKey

// FromBytes wraps raw key material into a SymmKey. The input is copied;
// the returned key does not alias b.
func FromBytes(b []byte) (*SymmKey, error) {
	switch len(b) {
	case AES128KeySize, AES256KeySize:
	default:
		return nil, &LengthError{Length: len(b)}
	}

	k := &SymmKey{bytes: make([]byte, len(b))}
	copy(k.bytes, b)
	return k, nil
}

// Bytes returns a copy of the key material. Mutating the returned slice
// does not affect the key.
func (k *SymmKey) Bytes() []byte {
	out := make([]byte, len(k.bytes))
	copy(out, k.bytes)
	return out
}

// Len returns the key length in bytes.
func (k *SymmKey) Len() int {
	return len(k.bytes)
}

// XOR combines two keys of identical length into a new key holding their
// position-wise exclusive-or. Neither operand is modified.
func (k *SymmKey) XOR(other *SymmKey) (*SymmKey, error) {
	if len(k.bytes) != len(other.bytes) {
		return nil, &MismatchError{A: len(k.bytes), B: len(other.bytes)}
	}

	out := make([]byte, len(k.bytes))
	for i := range k.bytes {
		out[i] = k.bytes[i] ^ other.bytes[i]
	}
	return &SymmKey{bytes: out}, nil
}
