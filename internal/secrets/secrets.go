// Package secrets generates and hashes the two kinds of caller-facing secrets
// in this system: user passwords and API keys. Passwords are hashed with
// salted Argon2id; API keys are hashed with unsalted SHA-256 (HashAPIKey),
// not Argon2id. Only these digests ever reach the event store — the event
// store is append-only and durably replicated, so no plaintext goes in it.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const apiKeyPrefix = "pk_live_"
const apiKeySecretBytes = 32

// Params configures the Argon2id cost parameters. Sourced from Config so
// they can be tuned per-environment without a code change.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// Hasher hashes and verifies passwords with a fixed Argon2id parameter set.
// It also issues API keys, but their hash is HashAPIKey's SHA-256 digest,
// which Verify does not accept.
type Hasher struct {
	params Params
}

// New builds a Hasher from the configured Argon2id cost parameters.
func New(params Params) *Hasher {
	return &Hasher{params: params}
}

// Hash derives an Argon2id digest of raw, encoded as
// "$argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<hash>".
func (h *Hasher) Hash(raw string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := argon2.IDKey([]byte(raw), salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		h.params.Memory, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest),
	)
	return encoded, nil
}

// Verify reports whether raw matches the given Argon2id-encoded hash.
func (h *Hasher) Verify(raw, encoded string) (bool, error) {
	params, salt, digest, err := decode(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(raw), salt, params.Time, params.Memory, params.Threads, uint32(len(digest)))
	return subtle.ConstantTimeCompare(candidate, digest) == 1, nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Params{}, nil, nil, fmt.Errorf("secrets: malformed argon2id hash")
	}

	var memory, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("secrets: malformed argon2id params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("secrets: malformed salt: %w", err)
	}
	digest, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("secrets: malformed digest: %w", err)
	}

	return Params{Time: timeCost, Memory: memory, Threads: threads, KeyLen: uint32(len(digest))}, salt, digest, nil
}

// GenerateAPIKey returns a fresh plaintext API key (never stored as-is) and
// its lookup hash. keyID is embedded in the plaintext so a caller can
// identify which key they're using without a database lookup, mirroring
// the prefixed-key-id convention the teacher's own API-key issuance uses.
//
// Unlike passwords, an API key's plaintext is 256 bits of crypto/rand
// output, not something an attacker could feasibly dictionary-attack even
// against a fast hash — so HashAPIKey, not the salted Argon2id Hash, is
// what gets stored. That's deliberate: it's the only thing that lets the
// read model index the hash and find it again by recomputing the same
// digest from a presented key, which a per-call salt would never permit.
func (h *Hasher) GenerateAPIKey(keyID string) (plain string, hash string, err error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", "", fmt.Errorf("generate api key secret: %w", err)
	}

	plain = apiKeyPrefix + keyID + "_" + hex.EncodeToString(secret)
	return plain, HashAPIKey(plain), nil
}

// HashAPIKey derives the deterministic lookup digest for an API key's
// plaintext: hex-encoded SHA-256, so the same plaintext always hashes to
// the same value and can be found again with an indexed equality lookup.
func HashAPIKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// VerifyAPIKey reports whether plain's lookup digest matches hash, using a
// constant-time comparison so a timing side-channel can't leak the digest
// one byte at a time.
func VerifyAPIKey(plain, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(HashAPIKey(plain)), []byte(hash)) == 1
}
