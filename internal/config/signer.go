package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/radsat-ctf/radsat/internal/errs"
)

// LoadSignerPublicKey reads a base64-encoded ed25519 public key from
// path, matching the encoding convention in
// virtengine's cmd/hpc-node-agent (raw key bytes, base64-standard).
func LoadSignerPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading signer key: %v", errs.ErrSignerKeyMissing, err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding signer key: %v", errs.ErrSignerKeyMissing, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: signer key wrong length %d", errs.ErrSignerKeyMissing, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
