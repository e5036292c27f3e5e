// Package algorithms defines the TPM algorithm tags the agent negotiates
// with its verifier: hash, encryption, and signing algorithm choices.
// Tags are validated when parsed from configuration and compared exactly
// everywhere else.
package algorithms

import "fmt"

// HashAlgorithm identifies a TPM hash algorithm.
type HashAlgorithm string

const (
	HashSha1   HashAlgorithm = "sha1"
	HashSha256 HashAlgorithm = "sha256"
	HashSha384 HashAlgorithm = "sha384"
	HashSha512 HashAlgorithm = "sha512"
	HashSm3    HashAlgorithm = "sm3_256"
)

// ParseHashAlgorithm validates a configured hash algorithm tag.
func ParseHashAlgorithm(s string) (HashAlgorithm, error) {
	switch alg := HashAlgorithm(s); alg {
	case HashSha1, HashSha256, HashSha384, HashSha512, HashSm3:
		return alg, nil
	}
	return "", fmt.Errorf("unsupported hash algorithm: %s", s)
}

// String returns the tag as configured.
func (a HashAlgorithm) String() string {
	return string(a)
}

// Validate checks that the tag is a supported hash algorithm.
func (a HashAlgorithm) Validate() error {
	_, err := ParseHashAlgorithm(string(a))
	return err
}

// EncryptionAlgorithm identifies a TPM asymmetric encryption scheme.
type EncryptionAlgorithm string

const (
	EncryptionRsa EncryptionAlgorithm = "rsa"
	EncryptionEcc EncryptionAlgorithm = "ecc"
)

// ParseEncryptionAlgorithm validates a configured encryption algorithm tag.
func ParseEncryptionAlgorithm(s string) (EncryptionAlgorithm, error) {
	switch alg := EncryptionAlgorithm(s); alg {
	case EncryptionRsa, EncryptionEcc:
		return alg, nil
	}
	return "", fmt.Errorf("unsupported encryption algorithm: %s", s)
}

// String returns the tag as configured.
func (a EncryptionAlgorithm) String() string {
	return string(a)
}

// Validate checks that the tag is a supported encryption algorithm.
func (a EncryptionAlgorithm) Validate() error {
	_, err := ParseEncryptionAlgorithm(string(a))
	return err
}

// SignAlgorithm identifies a TPM signing scheme.
type SignAlgorithm string

const (
	SignRsaSsa    SignAlgorithm = "rsassa"
	SignRsaPss    SignAlgorithm = "rsapss"
	SignEcDsa     SignAlgorithm = "ecdsa"
	SignEcSchnorr SignAlgorithm = "ecschnorr"
)

// ParseSignAlgorithm validates a configured signing algorithm tag.
func ParseSignAlgorithm(s string) (SignAlgorithm, error) {
	switch alg := SignAlgorithm(s); alg {
	case SignRsaSsa, SignRsaPss, SignEcDsa, SignEcSchnorr:
		return alg, nil
	}
	return "", fmt.Errorf("unsupported signing algorithm: %s", s)
}

// String returns the tag as configured.
func (a SignAlgorithm) String() string {
	return string(a)
}

// Validate checks that the tag is a supported signing algorithm.
func (a SignAlgorithm) Validate() error {
	_, err := ParseSignAlgorithm(string(a))
	return err
}
