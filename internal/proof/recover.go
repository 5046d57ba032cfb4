package proof

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stepmesh/proof-engine/pkg/models"
)

var (
	// ErrBadLength reports a signature that is not 65 bytes of r||s||v.
	ErrBadLength = errors.New("signature must be 65 bytes")
	// ErrBadRecoveryID reports a recovery byte outside {27, 28}.
	ErrBadRecoveryID = errors.New("signature v byte must be 27 or 28")
	// ErrRecoveryFailed reports an unrecoverable public key.
	ErrRecoveryFailed = errors.New("public key recovery failed")
	// ErrAddressMismatch reports a recovered signer that is not the
	// payload account.
	ErrAddressMismatch = errors.New("recovered address does not match account")
)

// digest applies the EIP-191 personal-message domain separation and hashes
// with keccak-256.
func digest(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverAddress recovers the signer of an EIP-191 personal message from a
// 65-byte r||s||v signature with v in {27, 28}.
func RecoverAddress(message string, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: got %d", ErrBadLength, len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		return common.Address{}, fmt.Errorf("%w: got %d", ErrBadRecoveryID, sig[64])
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	normalized[64] -= 27
	pub, err := crypto.SigToPub(digest(message), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// DecodeSignature parses the wire form of a signature: hex with an optional
// 0x prefix.
func DecodeSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrBadLength)
	}
	return raw, nil
}

// Verify builds the canonical message for a payload, recovers the signer
// and requires it to equal the claimed account, case-insensitively.
func Verify(p *models.ProofPayload, signatureHex string) error {
	message, err := CanonicalMessage(p)
	if err != nil {
		return err
	}
	sig, err := DecodeSignature(signatureHex)
	if err != nil {
		return err
	}
	addr, err := RecoverAddress(message, sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(addr.Hex(), p.Account) {
		return fmt.Errorf("%w: signer %s, account %s", ErrAddressMismatch, addr.Hex(), p.Account)
	}
	return nil
}
