// Package crypto authenticates API callers by EIP-191 personal signatures.
// A caller signs "{METHOD} {PATH} {TIMESTAMP}" with their account key and the
// server recovers the signing address from the signature.
package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Verification failures. They wrap domain.ErrUnauthorized at the HTTP edge.
var (
	ErrMalformedSignature = errors.New("malformed signature")
	ErrSignatureMismatch  = errors.New("signature does not match address")
	ErrStaleTimestamp     = errors.New("request timestamp outside allowed skew")
)

// RequestMessage is the text a caller signs for one request.
func RequestMessage(method, path string, timestamp int64) string {
	return strings.ToUpper(method) + " " + path + " " + strconv.FormatInt(timestamp, 10)
}

// Signer produces request signatures. Clients and tests use it; the server
// only verifies.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest signs the request message for method, path and timestamp and
// returns the hex-encoded 65-byte signature.
func (s *Signer) SignRequest(method, path string, timestamp int64) (string, error) {
	digest := accounts.TextHash([]byte(RequestMessage(method, path, timestamp)))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; wallets emit v in {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// Verifier checks request signatures against a claimed address.
type Verifier struct {
	maxSkew time.Duration
	now     func() time.Time
}

// NewVerifier creates a Verifier accepting timestamps within maxSkew of now.
func NewVerifier(maxSkew time.Duration, now func() time.Time) *Verifier {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Verifier{maxSkew: maxSkew, now: now}
}

// Verify recovers the signer of the request message and checks it equals
// claimed. Timestamps are unix seconds.
func (v *Verifier) Verify(claimed common.Address, method, path string, timestamp int64, signatureHex string) error {
	skew := v.now().Sub(time.Unix(timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxSkew {
		return fmt.Errorf("crypto/verify: %w: %s", ErrStaleTimestamp, skew.Truncate(time.Second))
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signatureHex, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return fmt.Errorf("crypto/verify: %w", ErrMalformedSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return fmt.Errorf("crypto/verify: %w: recovery id %d", ErrMalformedSignature, sig[64])
	}

	digest := accounts.TextHash([]byte(RequestMessage(method, path, timestamp)))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("crypto/verify: %w: %v", ErrMalformedSignature, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != claimed {
		return fmt.Errorf("crypto/verify: %w", ErrSignatureMismatch)
	}
	return nil
}
