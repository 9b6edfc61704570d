package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme names the algorithm behind a stored verification hash.
type Scheme string

const (
	// SchemeBcryptDigest is the current scheme: bcrypt over the SHA-256
	// lookup digest. Bcrypt truncates input at 72 bytes, shorter than our
	// raw secrets; digesting first preserves the full entropy under that
	// ceiling.
	SchemeBcryptDigest Scheme = "bcrypt_digest"
	// SchemeBcryptRaw is a legacy scheme: bcrypt applied to the raw secret.
	SchemeBcryptRaw Scheme = "bcrypt_raw"
	// SchemePlaintext is the oldest legacy scheme: the raw secret stored
	// verbatim.
	SchemePlaintext Scheme = "plaintext"
)

// LookupKey derives the fast, non-secret digest used for indexed retrieval.
// A lookup-key match alone never authenticates; possession is proven by the
// verification hash.
func LookupKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Hasher derives and verifies refresh-secret verification hashes.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Derive computes both persisted forms of a raw secret.
func (h *Hasher) Derive(raw string) (lookupKey, verificationHash string, err error) {
	lookupKey = LookupKey(raw)
	hash, err := bcrypt.GenerateFromPassword([]byte(lookupKey), h.cost)
	if err != nil {
		return "", "", fmt.Errorf("derive verification hash: %w", err)
	}
	return lookupKey, string(hash), nil
}

// candidateSchemes infers which schemes a stored hash could belong to. A
// bcrypt hash does not reveal whether digest or raw material went in, so
// both bcrypt schemes remain candidates, current one first.
func candidateSchemes(stored string) []Scheme {
	if strings.HasPrefix(stored, "$2") {
		return []Scheme{SchemeBcryptDigest, SchemeBcryptRaw}
	}
	return []Scheme{SchemePlaintext}
}

// Verify proves possession of raw against a stored verification hash and
// reports which scheme matched. Any scheme other than SchemeBcryptDigest
// means the row should be upgraded on read.
func (h *Hasher) Verify(raw, stored string) (Scheme, bool) {
	for _, s := range candidateSchemes(stored) {
		if verifiers[s](raw, stored) {
			return s, true
		}
	}
	return "", false
}

var verifiers = map[Scheme]func(raw, stored string) bool{
	SchemeBcryptDigest: verifyBcryptDigest,
	SchemeBcryptRaw:    verifyBcryptRaw,
	SchemePlaintext:    verifyPlaintext,
}

func verifyBcryptDigest(raw, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(LookupKey(raw))) == nil
}

func verifyBcryptRaw(raw, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(raw)) == nil
}

func verifyPlaintext(raw, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(raw)) == 1
}
