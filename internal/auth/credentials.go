package auth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

const (
	usernameMaxBase   = 12
	passwordLength    = 10
	passwordAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	usernameSuffixMax = 100
)

// GenerateUsername derives a handle from a display name: lower-cased,
// non-letters stripped, whitespace collapsed to underscores, truncated, with
// a random numeric suffix. The result is syntactically valid but not
// guaranteed globally unique; callers must handle conflicts via
// MutateUsername.
func GenerateUsername(displayName string) (string, error) {
	base := usernameBase(displayName)
	n, err := rand.Int(rand.Reader, big.NewInt(usernameSuffixMax))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%d", base, n.Int64()), nil
}

// MutateUsername re-rolls the numeric suffix of a generated username,
// used when the previous candidate collided.
func MutateUsername(username string) (string, error) {
	base := username
	if i := strings.LastIndex(username, "_"); i > 0 {
		base = username[:i]
	}
	n, err := rand.Int(rand.Reader, big.NewInt(usernameSuffixMax))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%d", base, n.Int64()), nil
}

// GeneratePassword returns a fixed-length random alphanumeric password.
// Complexity beyond the alphabet is not enforced at generation time.
func GeneratePassword() (string, error) {
	var b strings.Builder
	b.Grow(passwordLength)
	for i := 0; i < passwordLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func usernameBase(displayName string) string {
	lower := strings.ToLower(strings.TrimSpace(displayName))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
			lastUnderscore = false
		case unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	base := strings.Trim(b.String(), "_")
	if base == "" {
		base = "member"
	}
	if len(base) > usernameMaxBase {
		base = strings.Trim(base[:usernameMaxBase], "_")
	}
	return base
}
