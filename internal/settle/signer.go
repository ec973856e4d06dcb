package settle

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// Signer produces a tamper-evident attestation over a race outcome.
type Signer interface {
	Sign(digest [32]byte) ([]byte, error)
}

// AttestationDigest hashes (room id, winner, finish time) into the message
// that gets signed. External verifiers recompute it from the persisted
// result.
func AttestationDigest(roomID uuid.UUID, winner string, finishedAt time.Time) [32]byte {
	msg := fmt.Sprintf("race:%s|winner:%s|finished:%d", roomID, winner, finishedAt.UnixMicro())
	return sha3.Sum256([]byte(msg))
}

// Ed25519Signer signs attestation digests with a static key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewEd25519Signer parses a hex-encoded 64-byte ed25519 private key.
func NewEd25519Signer(hexKey string) (*Ed25519Signer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return &Ed25519Signer{priv: ed25519.PrivateKey(raw)}, nil
}

// GenerateEd25519Signer creates a signer with a fresh key. Used by tests
// and local runs where no key is configured.
func GenerateEd25519Signer() (*Ed25519Signer, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Ed25519Signer{priv: priv}, pub, nil
}

func (s *Ed25519Signer) Sign(digest [32]byte) ([]byte, error) {
	return ed25519.Sign(s.priv, digest[:]), nil
}

// PlaceholderAttestation marks results whose signing collaborator was
// unavailable. Payout correctness never depends on a real signature.
func PlaceholderAttestation(digest [32]byte) []byte {
	return []byte("unsigned:" + hex.EncodeToString(digest[:]))
}
