package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// MinPasswordLength is the shortest password HashPassword accepts.
const MinPasswordLength = 8

var (
	// ErrPasswordTooShort is returned by HashPassword for short passwords.
	ErrPasswordTooShort = errors.New("auth: password too short")

	// ErrMalformedHash is returned by VerifyPassword for stored values
	// that are not argon2id PHC strings.
	ErrMalformedHash = errors.New("auth: malformed password hash")
)

// argonParams are the tunables recorded in every PHC string.
type argonParams struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
}

// defaultArgon follows the OWASP 2025 argon2id profile.
var defaultArgon = argonParams{memory: 64 * 1024, time: 3, threads: 1}

const (
	saltLen = 16
	keyLen  = 32
)

var phc = base64.RawStdEncoding

// HashPassword returns an argon2id hash of password in PHC form:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt>$<key>
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	return defaultArgon.hash(password)
}

func (p argonParams) hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads,
		phc.EncodeToString(salt), phc.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches a hash produced by
// HashPassword. The parameters stored in the hash are used, so hashes made
// with older settings keep verifying.
func VerifyPassword(password, encoded string) (bool, error) {
	p, salt, key, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(key))) //nolint:gosec // key length fits uint32
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func parsePHC(encoded string) (p argonParams, salt, key []byte, err error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" { //nolint:mnd // "", alg, version, params, salt, key
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err = fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: version %q", ErrMalformedHash, fields[2])
	}
	if _, err = fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: params %q", ErrMalformedHash, fields[3])
	}
	if salt, err = phc.DecodeString(fields[4]); err != nil {
		return p, nil, nil, fmt.Errorf("%w: salt: %w", ErrMalformedHash, err)
	}
	if key, err = phc.DecodeString(fields[5]); err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key", ErrMalformedHash)
	}
	return p, salt, key, nil
}

var (
	decoyOnce sync.Once
	decoy     string
)

// burnPasswordCheck spends the same work as a real verification so an
// unknown username is not distinguishable by timing.
func burnPasswordCheck(password string) {
	decoyOnce.Do(func() {
		decoy, _ = defaultArgon.hash("timing-equaliser") //nolint:errcheck // empty decoy only skips the work
	})
	_, _ = VerifyPassword(password, decoy) //nolint:errcheck // result is discarded
}
