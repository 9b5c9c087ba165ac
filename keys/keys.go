// Package keys manages the agent's operator identity: a secp256k1 keypair
// whose address doubles as the operator wallet on the registry contract.
package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

type Identity struct {
	privateKey *ecdsa.PrivateKey
	address    string
}

// Load reads a hex-encoded private key from keyPath, generating and
// persisting a fresh one if the file does not exist yet.
func Load(keyPath string) (*Identity, error) {
	raw, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generate(keyPath)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key file")
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse key file")
	}
	return fromKey(privateKey), nil
}

func generate(keyPath string) (*Identity, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate operator key")
	}
	if dir := filepath.Dir(keyPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	encoded := hex.EncodeToString(crypto.FromECDSA(privateKey))
	if err := os.WriteFile(keyPath, []byte(encoded), 0o600); err != nil {
		return nil, errors.Wrap(err, "failed to persist operator key")
	}
	return fromKey(privateKey), nil
}

func fromKey(privateKey *ecdsa.PrivateKey) *Identity {
	return &Identity{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
	}
}

// Address returns the operator wallet address derived from the key.
func (id *Identity) Address() string {
	return id.address
}

// SignRegistration signs the canonical register message. The hex signature
// is what the hub's signature verifier receives.
func (id *Identity) SignRegistration(displayName string, timestamp int64) (string, error) {
	digest := RegistrationDigest(id.address, displayName, timestamp)
	sig, err := crypto.Sign(digest, id.privateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign registration")
	}
	return hex.EncodeToString(sig), nil
}

// RegistrationDigest is the exact message both sides sign and verify.
func RegistrationDigest(wallet, displayName string, timestamp int64) []byte {
	msg := fmt.Sprintf("rpcmesh-register|%s|%s|%d", strings.ToLower(wallet), displayName, timestamp)
	return crypto.Keccak256([]byte(msg))
}
