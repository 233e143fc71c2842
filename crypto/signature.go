package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature.
const SignatureLength = crypto.SignatureLength

var (
	// ErrInvalidSignature is returned when a signature cannot be recovered.
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	// ErrNilKey is returned when signing with a missing key.
	ErrNilKey = errors.New("crypto: nil private key")
)

// Keccak256 hashes the concatenation of the supplied byte slices.
func Keccak256(data ...[]byte) []byte {
	return crypto.Keccak256(data...)
}

// Sign produces a 65 byte recoverable signature over a 32 byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, ErrNilKey
	}
	return crypto.Sign(digest, k.PrivateKey)
}

// RecoverAddress returns the controller address that produced sig over digest.
func RecoverAddress(digest, sig []byte) (Address, error) {
	if len(sig) != SignatureLength {
		return Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(sig))
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return (&PublicKey{pub}).Address(), nil
}
