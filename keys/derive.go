package keys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// deriveIterations matches the PBKDF2 iteration count used by the
// tenant-side key derivation. Both sides must agree for the derived
// shares to line up.
const deriveIterations = 2000

// Derive stretches a shared secret into a key of the requested size
// using PBKDF2-HMAC-SHA512. The size must be one of the allowed AES key
// sizes.
func Derive(secret, salt []byte, size int) (*SymmKey, error) {
	switch size {
	case AES128KeySize, AES256KeySize:
	default:
		return nil, &LengthError{Length: size}
	}

	return FromBytes(pbkdf2.Key(secret, salt, deriveIterations, size, sha512.New))
}

// AuthTag computes the registration auth tag for an agent identifier:
// the hex-encoded HMAC-SHA384 of the identifier under the bootstrap key.
// The result is always 96 hex characters.
func AuthTag(k *SymmKey, agentUUID string) string {
	mac := hmac.New(sha512.New384, k.bytes)
	mac.Write([]byte(agentUUID))
	return hex.EncodeToString(mac.Sum(nil))
}
