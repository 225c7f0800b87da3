// Package crypto provides the primitives the rest of zincsync builds on:
// X25519 key agreement, an Ed25519 identity signature, a ChaCha20-Poly1305
// AEAD box, and an Argon2id-based key derivation for passphrase pairing.
//
// There is no insecure fallback mode: every primitive here is backed by a
// real implementation, never a stub.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"github.com/zincnote/zincsync/internal/zerrors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size in bytes of an X25519 public or private key.
	KeySize = 32
	nonceSize = chacha20poly1305.NonceSizeX
)

// DHKeyPair is an X25519 key pair used for Noise handshakes and asymmetric
// sealing.
type DHKeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateDHKeyPair creates a new X25519 key pair.
func GenerateDHKeyPair() (*DHKeyPair, error) {
	var kp DHKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "generate x25519 private key", err)
	}
	// Clamp per RFC 7748.
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "derive x25519 public key", err)
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedSecret computes the X25519 Diffie-Hellman shared secret between our
// private key and their public key.
func SharedSecret(ourPrivate, theirPublic [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	secret, err := curve25519.X25519(ourPrivate[:], theirPublic[:])
	if err != nil {
		return out, zerrors.Wrap(zerrors.CryptoError, "x25519 dh", err)
	}
	copy(out[:], secret)
	return out, nil
}

// IdentityKeyPair is an Ed25519 signing key pair identifying a device.
type IdentityKeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateIdentityKeyPair creates a new Ed25519 identity key pair.
func GenerateIdentityKeyPair() (*IdentityKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "generate ed25519 identity", err)
	}
	return &IdentityKeyPair{Private: priv, Public: pub}, nil
}

// Sign signs message with the identity private key.
func (k *IdentityKeyPair) Sign(message []byte) []byte {
	return ed25519.Sign(k.Private, message)
}

// Verify checks a signature against an Ed25519 public key.
func Verify(public ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(public, message, signature)
}

// Fingerprint returns a short blake2b-derived identifier for a public key,
// suitable for display in pairing UIs and discovery datagrams.
func Fingerprint(public []byte) string {
	sum := blake2b.Sum256(public)
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// DeriveKeyArgon2id derives a symmetric key from a low-entropy passphrase
// (numeric pairing code or passphrase) using memory-hard Argon2id
// parameters, following the OWASP-recommended baseline.
func DeriveKeyArgon2id(passphrase string, salt []byte) [KeySize]byte {
	const (
		time    = 1
		memory  = 64 * 1024 // KiB
		threads = 4
	)
	key := argon2.IDKey([]byte(passphrase), salt, time, memory, threads, KeySize)
	var out [KeySize]byte
	copy(out[:], key)
	return out
}

// HKDFExpand derives `n` bytes from ikm using HKDF over BLAKE2b-256 with the given
// salt and info, used for Noise chaining-key ratchets and sub-key
// derivation from a passphrase-derived master key.
func HKDFExpand(ikm, salt, info []byte, n int) ([]byte, error) {
	r := hkdf.New(blake2b.New256, ikm, salt, info)
	out := make([]byte, n)
	if _, err := r.Read(out); err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "hkdf expand", err)
	}
	return out, nil
}

// Box seals plaintext under key with a random nonce prefixed to the
// ciphertext, using XChaCha20-Poly1305 (the asymmetric "crypto box"
// construction referenced by the project's X25519 open question: the DH
// shared secret is hashed into `key` by the caller before Seal/Open).
func Box(key [KeySize]byte, plaintext, associatedData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "init aead", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "generate nonce", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, associatedData)
	return append(nonce, ciphertext...), nil
}

// Open reverses Box.
func Open(key [KeySize]byte, sealed, associatedData []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, zerrors.New(zerrors.CryptoError, "sealed payload too short")
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "init aead", err)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, associatedData)
	if err != nil {
		return nil, zerrors.Wrap(zerrors.CryptoError, "open sealed payload", err)
	}
	return plaintext, nil
}

// ConstantTimeEqual compares two byte slices without leaking timing
// information, used to compare verification codes and MACs.
func ConstantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
