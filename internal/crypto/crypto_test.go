package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDHKeyPairSharedSecretConverges(t *testing.T) {
	a, err := GenerateDHKeyPair()
	require.NoError(t, err)
	b, err := GenerateDHKeyPair()
	require.NoError(t, err)

	secretA, err := SharedSecret(a.Private, b.Public)
	require.NoError(t, err)
	secretB, err := SharedSecret(b.Private, a.Public)
	require.NoError(t, err)
	assert.Equal(t, secretA, secretB)
}

func TestGenerateDHKeyPairProducesDistinctKeys(t *testing.T) {
	a, err := GenerateDHKeyPair()
	require.NoError(t, err)
	b, err := GenerateDHKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, a.Private, b.Private)
	assert.NotEqual(t, a.Public, b.Public)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateIdentityKeyPair()
	require.NoError(t, err)

	msg := []byte("hello device")
	sig := kp.Sign(msg)
	assert.True(t, Verify(kp.Public, msg, sig))
	assert.False(t, Verify(kp.Public, []byte("tampered"), sig))
}

func TestFingerprintIsDeterministicAndDistinct(t *testing.T) {
	a, err := GenerateDHKeyPair()
	require.NoError(t, err)
	b, err := GenerateDHKeyPair()
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(a.Public[:]), Fingerprint(a.Public[:]))
	assert.NotEqual(t, Fingerprint(a.Public[:]), Fingerprint(b.Public[:]))
}

func TestDeriveKeyArgon2idIsDeterministicPerSalt(t *testing.T) {
	salt := []byte("fixed-salt-value")
	k1 := DeriveKeyArgon2id("correct-horse-battery", salt)
	k2 := DeriveKeyArgon2id("correct-horse-battery", salt)
	assert.Equal(t, k1, k2)

	otherSalt := []byte("different-salt-v")
	k3 := DeriveKeyArgon2id("correct-horse-battery", otherSalt)
	assert.NotEqual(t, k1, k3)

	k4 := DeriveKeyArgon2id("another-passphrase", salt)
	assert.NotEqual(t, k1, k4)
}

func TestHKDFExpandIsDeterministicAndSaltSensitive(t *testing.T) {
	ikm := []byte("shared secret material")
	out1, err := HKDFExpand(ikm, []byte("salt-a"), []byte("info"), 32)
	require.NoError(t, err)
	out2, err := HKDFExpand(ikm, []byte("salt-a"), []byte("info"), 32)
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Len(t, out1, 32)

	out3, err := HKDFExpand(ikm, []byte("salt-b"), []byte("info"), 32)
	require.NoError(t, err)
	assert.NotEqual(t, out1, out3)

	out4, err := HKDFExpand(ikm, []byte("salt-a"), []byte("other-info"), 32)
	require.NoError(t, err)
	assert.NotEqual(t, out1, out4)
}

func TestBoxOpenRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	plaintext := []byte("a secret page snapshot")
	sealed, err := Box(key, plaintext, []byte("aad"))
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := Open(key, sealed, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	_, err = Open(key, sealed, []byte("wrong-aad"))
	assert.Error(t, err)
}

func TestBoxProducesDistinctCiphertextsPerCall(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	sealed1, err := Box(key, []byte("same plaintext"), nil)
	require.NoError(t, err)
	sealed2, err := Box(key, []byte("same plaintext"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, sealed1, sealed2)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	sealed, err := Box(key, []byte("data"), nil)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = Open(key, sealed, nil)
	assert.Error(t, err)
}

func TestOpenRejectsShortPayload(t *testing.T) {
	var key [KeySize]byte
	_, err := Open(key, []byte("too short"), nil)
	assert.Error(t, err)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual([]byte("abc"), []byte("abc")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("abd")))
	assert.False(t, ConstantTimeEqual([]byte("abc"), []byte("ab")))
}
