package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Ciphertext blocks are 32 bytes: a 16-byte plaintext (u64 LE value followed
// by eight zero bytes) sealed with ChaCha20-Poly1305 under a key agreed over
// x25519. The 16-byte tag fills the rest of the block.
const (
	BlockSize = 32
	NonceSize = 16

	InfoOrder  = "arcdark/order/v1"
	InfoResult = "arcdark/result/v1"
)

var ErrOpen = errors.New("ciphertext block did not open")

// KeyPair is an x25519 key pair.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate x25519 key: %w", err)
	}
	return kp, kp.derivePublic()
}

// KeyPairFromSeed derives a key pair from arbitrary seed bytes (devnet and tests).
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	var kp KeyPair
	copy(kp.Private[:], crypto.Keccak256(seed))
	return kp, kp.derivePublic()
}

func (kp *KeyPair) derivePublic() error {
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return fmt.Errorf("x25519 public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return nil
}

// SharedKey agrees a symmetric key with peer. Both sides get the same key
// for the same info string.
func SharedKey(priv, peerPub [32]byte, info string) ([32]byte, error) {
	var key [32]byte
	secret, err := curve25519.X25519(priv[:], peerPub[:])
	if err != nil {
		return key, fmt.Errorf("x25519: %w", err)
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

func GenerateNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return n, nil
}

// blockNonce binds each block to its position so blocks cannot be swapped.
func blockNonce(nonce [NonceSize]byte, index byte) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	copy(n, nonce[:chacha20poly1305.NonceSize-1])
	n[chacha20poly1305.NonceSize-1] = index
	return n
}

func SealU64(key [32]byte, nonce [NonceSize]byte, index byte, v uint64) ([BlockSize]byte, error) {
	var out [BlockSize]byte
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return out, err
	}
	var plain [16]byte
	binary.LittleEndian.PutUint64(plain[:8], v)
	sealed := aead.Seal(nil, blockNonce(nonce, index), plain[:], nil)
	copy(out[:], sealed)
	return out, nil
}

func OpenU64(key [32]byte, nonce [NonceSize]byte, index byte, block [BlockSize]byte) (uint64, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return 0, err
	}
	plain, err := aead.Open(nil, blockNonce(nonce, index), block[:], nil)
	if err != nil {
		return 0, ErrOpen
	}
	for _, b := range plain[8:] {
		if b != 0 {
			return 0, ErrOpen
		}
	}
	return binary.LittleEndian.Uint64(plain[:8]), nil
}

// SealFields seals values as consecutive blocks starting at index first.
func SealFields(key [32]byte, nonce [NonceSize]byte, first byte, values ...uint64) ([][BlockSize]byte, error) {
	out := make([][BlockSize]byte, len(values))
	for i, v := range values {
		b, err := SealU64(key, nonce, first+byte(i), v)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func OpenFields(key [32]byte, nonce [NonceSize]byte, first byte, blocks ...[BlockSize]byte) ([]uint64, error) {
	out := make([]uint64, len(blocks))
	for i, b := range blocks {
		v, err := OpenU64(key, nonce, first+byte(i), b)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
