package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"driver-auth-service/internal/config"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidSalt   = errors.New("invalid salt format")
	ErrInvalidFormat = errors.New("invalid code format")
)

// Argon2Params tunes the key derivation used for both OTP and password hashes.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Material is the product of a single OTP generation. The raw code goes to the
// SMS dispatcher and is never persisted; only hash and salt reach the session
// store.
type Material struct {
	Code string
	Salt string
	Hash string
}

// Generator produces one-time passcodes and their salted, peppered hashes.
// The pepper is a process-wide secret from configuration; it never appears in
// stored data, responses or logs.
type Generator struct {
	codeLength int
	pepper     string
	params     Argon2Params
}

func NewGenerator(cfg *config.Config) *Generator {
	return &Generator{
		codeLength: cfg.OTP.CodeLength,
		pepper:     cfg.OTP.Pepper,
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

// GenerateSecureOTP draws a fixed-length numeric code and a fresh salt from
// crypto/rand and returns them with the peppered hash.
func (g *Generator) GenerateSecureOTP() (*Material, error) {
	code, err := g.randomCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	saltBytes := make([]byte, g.params.SaltLength)
	if _, err := rand.Read(saltBytes); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	salt := base64.RawURLEncoding.EncodeToString(saltBytes)

	hash, err := g.HashOTP(code, salt)
	if err != nil {
		return nil, err
	}

	return &Material{Code: code, Salt: salt, Hash: hash}, nil
}

// HashOTP recomputes the salted, peppered hash of a code. Deterministic and
// side-effect-free so the verify path can derive the comparison value
// independently of generation.
func (g *Generator) HashOTP(code, salt string) (string, error) {
	saltBytes, err := base64.RawURLEncoding.DecodeString(salt)
	if err != nil {
		return "", ErrInvalidSalt
	}

	// Context suffix keeps OTP hashes distinct from password hashes that
	// share the same pepper.
	contextualData := code + g.pepper + "otp"

	hash := argon2.IDKey(
		[]byte(contextualData),
		saltBytes,
		g.params.Iterations,
		g.params.Memory,
		g.params.Parallelism,
		g.params.KeyLength,
	)

	return base64.RawURLEncoding.EncodeToString(hash), nil
}

// Verify recomputes the hash for code/salt and compares it to expectedHash in
// constant time.
func (g *Generator) Verify(code, salt, expectedHash string) (bool, error) {
	computed, err := g.HashOTP(code, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(expectedHash)) == 1, nil
}

// IsValidFormat rejects anything that is not exactly codeLength digits before
// any hashing work is attempted.
func (g *Generator) IsValidFormat(code string) bool {
	if len(code) != g.codeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CodeLength returns the configured code length.
func (g *Generator) CodeLength() int {
	return g.codeLength
}

// randomCode draws codeLength digits from a CSPRNG. Leading zeros are kept:
// the code space is the full 10^n range.
func (g *Generator) randomCode() (string, error) {
	digits := make([]byte, g.codeLength)
	max := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
