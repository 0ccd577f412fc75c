package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonMemory      = 32 * 1024 // 32 MiB
	argonParallelism = 1
	argonKeyLen      = 32
	saltLen          = 16

	defaultTimeCost = 2
)

// Hasher wraps argon2id with a configurable time cost. The work factor is a
// process-wide constant taken from configuration; the salt is random per call
// and baked into the encoded output.
type Hasher struct {
	TimeCost uint32
}

func NewHasher(timeCost int) Hasher {
	if timeCost < 1 {
		timeCost = defaultTimeCost
	}
	return Hasher{TimeCost: uint32(timeCost)}
}

func (h Hasher) Hash(pw string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(pw), salt, h.TimeCost, argonMemory, argonParallelism, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		h.TimeCost,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify re-derives the key using the parameters encoded in the stored hash,
// so records hashed under an older time cost keep verifying after the
// configured work factor changes. Malformed input yields false, never panics.
func Verify(encoded, pw string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var mem uint32
	var it uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	other := argon2.IDKey([]byte(pw), salt, it, mem, par, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, other) == 1
}
