package hub

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/rpcmesh/rpcmesh/keys"
	"github.com/rpcmesh/rpcmesh/protocol"
	"github.com/rpcmesh/rpcmesh/utils"
)

var (
	ErrMissingWallet  = errors.New("wallet is required")
	ErrStaleTimestamp = errors.New("registration timestamp outside allowed window")
	ErrBadSignature   = errors.New("invalid registration signature")
)

// SignatureVerifier checks the signature on a register message.
type SignatureVerifier interface {
	Verify(wallet, displayName string, timestamp int64, signature string) error
}

// HexSignatureVerifier accepts any 130-character hex string. This is a shape
// check, not a cryptographic one; it exists to keep malformed clients out,
// and RecoverSignatureVerifier exists for deployments that want the real
// thing. See DESIGN.md.
type HexSignatureVerifier struct{}

func (HexSignatureVerifier) Verify(_, _ string, _ int64, signature string) error {
	sig := strings.TrimPrefix(signature, "0x")
	if len(sig) != 130 || !utils.IsHexString(sig) {
		return ErrBadSignature
	}
	return nil
}

// RecoverSignatureVerifier recovers the secp256k1 public key from the
// signature over the canonical registration digest and requires that it
// matches the claimed wallet.
type RecoverSignatureVerifier struct{}

func (RecoverSignatureVerifier) Verify(wallet, displayName string, timestamp int64, signature string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return ErrBadSignature
	}
	digest := keys.RegistrationDigest(wallet, displayName, timestamp)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return ErrBadSignature
	}
	recovered := crypto.PubkeyToAddress(*pub).Hex()
	if !strings.EqualFold(recovered, wallet) {
		return ErrBadSignature
	}
	return nil
}

// ValidateRegister runs the auth checks on an inbound register message.
// Failure means the connection is refused before any state is created.
func ValidateRegister(msg *protocol.Message, now time.Time, verifier SignatureVerifier) error {
	if msg.Wallet == "" {
		return ErrMissingWallet
	}
	skew := now.Unix() - msg.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > protocol.RegisterTimestampWindowSeconds {
		return ErrStaleTimestamp
	}
	return verifier.Verify(msg.Wallet, msg.DisplayName, msg.Timestamp, msg.Signature)
}
