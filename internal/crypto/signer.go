package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// ed25519Flag is the signature scheme byte the chain prefixes to ed25519
// public keys and serialized signatures.
const ed25519Flag = 0x00

// Signer signs gateway requests with the operator's ed25519 key.
type Signer struct {
	key     ed25519.PrivateKey
	address string
	now     func() time.Time
}

// NewSigner builds a signer from a hex seed.
func NewSigner(seedHex string) (*Signer, error) {
	seed, err := decodeSeed(seedHex)
	if err != nil {
		return nil, err
	}
	key := ed25519.NewKeyFromSeed(seed)
	return &Signer{
		key:     key,
		address: AddressFromPublicKey(key.Public().(ed25519.PublicKey)),
		now:     time.Now,
	}, nil
}

// AddressFromPublicKey derives the account address:
// blake2b-256(flag || pubkey), 0x-prefixed hex.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	sum := blake2b.Sum256(append([]byte{ed25519Flag}, pub...))
	return common.BytesToHash(sum[:]).Hex()
}

// Address returns the signer's account address.
func (s *Signer) Address() string { return s.address }

// PublicKey returns the raw public key as hex.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

// Sign returns the serialized signature flag || sig || pubkey, base64
// encoded, over blake2b-256(message).
func (s *Signer) Sign(message []byte) string {
	digest := blake2b.Sum256(message)
	sig := ed25519.Sign(s.key, digest[:])
	pub := s.key.Public().(ed25519.PublicKey)

	out := make([]byte, 0, 1+len(sig)+len(pub))
	out = append(out, ed25519Flag)
	out = append(out, sig...)
	out = append(out, pub...)
	return base64.StdEncoding.EncodeToString(out)
}

// RequestHeaders signs timestamp + method + path + body.
func (s *Signer) RequestHeaders(method, path string, body []byte) map[string]string {
	ts := strconv.FormatInt(s.now().Unix(), 10)
	msg := make([]byte, 0, len(ts)+len(method)+len(path)+len(body))
	msg = append(msg, ts...)
	msg = append(msg, method...)
	msg = append(msg, path...)
	msg = append(msg, body...)

	return map[string]string{
		"X-Sui-Address": s.address,
		"X-Timestamp":   ts,
		"X-Signature":   s.Sign(msg),
	}
}

// Verify checks a serialized signature produced by Sign.
func Verify(serialized string, message []byte) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(serialized)
	if err != nil {
		return false, fmt.Errorf("crypto: decoding signature: %w", err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize || raw[0] != ed25519Flag {
		return false, fmt.Errorf("crypto: malformed signature")
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	digest := blake2b.Sum256(message)
	return ed25519.Verify(pub, digest[:], sig), nil
}
