package application

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidPasswordHash         = errors.New("invalid password hash format")
	ErrIncompatiblePasswordVersion = errors.New("incompatible password hash version")
)

// Argon2idParams tunes the key derivation. SaltLength and KeyLength apply
// only when hashing; verification takes them from the stored hash.
type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// PasswordHasher derives a storable hash from a plaintext secret.
type PasswordHasher func(password string) (string, error)

// PasswordVerifier returns nil when password matches hashedPassword and
// ErrInvalidCredentials when it does not.
type PasswordVerifier func(hashedPassword, password string) error

var b64 = base64.RawStdEncoding

// storedHash is the PHC string $argon2id$v=19$m=..,t=..,p=..$salt$key.
type storedHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (h storedHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func parseStoredHash(encoded string) (storedHash, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return storedHash{}, ErrInvalidPasswordHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return storedHash{}, ErrInvalidPasswordHash
	}
	if version != argon2.Version {
		return storedHash{}, fmt.Errorf("%w: v=%d", ErrIncompatiblePasswordVersion, version)
	}

	var h storedHash
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.params.Memory, &h.params.Iterations, &h.params.Parallelism); err != nil {
		return storedHash{}, ErrInvalidPasswordHash
	}
	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil {
		return storedHash{}, ErrInvalidPasswordHash
	}
	if h.key, err = b64.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return storedHash{}, ErrInvalidPasswordHash
	}
	h.params.SaltLength = uint32(len(h.salt))
	h.params.KeyLength = uint32(len(h.key))
	return h, nil
}

func derive(password string, salt []byte, p Argon2idParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
}

// HashPassword hashes with DefaultArgon2idParams.
func HashPassword(password string) (string, error) {
	return CreatePasswordHash(password, DefaultArgon2idParams)
}

// CreatePasswordHash hashes password with a fresh random salt.
func CreatePasswordHash(password string, params Argon2idParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return storedHash{params: params, salt: salt, key: derive(password, salt, params)}.String(), nil
}

// VerifyPassword recomputes the key with the parameters stored in hashedPassword.
func VerifyPassword(hashedPassword, password string) error {
	h, err := parseStoredHash(hashedPassword)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(h.key, derive(password, h.salt, h.params)) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
