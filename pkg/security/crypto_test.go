package security

import (
	"testing"

	"github.com/stretchr/testify/require"

	"chatrixx/pkg/faults"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	d, err := NewHKDFDeriver("test-secret")
	require.NoError(t, err)
	key, err := d.ConversationKey("conv-1")
	require.NoError(t, err)
	require.Len(t, key, 32)

	ct, nonce, tag, err := EncryptString("hello, bob", key)
	require.NoError(t, err)
	require.NotEqual(t, "hello, bob", ct)

	pt, err := DecryptString(ct, nonce, tag, key)
	require.NoError(t, err)
	require.Equal(t, "hello, bob", pt)
}

func TestDecryptRejectsTampering(t *testing.T) {
	d, err := NewHKDFDeriver("test-secret")
	require.NoError(t, err)
	key, _ := d.ConversationKey("conv-1")

	ct, nonce, tag, err := EncryptString("payload", key)
	require.NoError(t, err)

	// wrong tag
	_, err = DecryptString(ct, nonce, "ZmFrZXRhZ2Zha2V0YWdmYWtl", key)
	require.True(t, faults.Is(err, faults.DecryptionFailed))

	// wrong key
	otherKey, _ := d.ConversationKey("conv-2")
	_, err = DecryptString(ct, nonce, tag, otherKey)
	require.True(t, faults.Is(err, faults.DecryptionFailed))

	// garbage ciphertext
	_, err = DecryptString("not base64 %%", nonce, tag, key)
	require.True(t, faults.Is(err, faults.DecryptionFailed))
}

func TestKeyDerivationIsStablePerConversation(t *testing.T) {
	d, err := NewHKDFDeriver("test-secret")
	require.NoError(t, err)

	k1a, err := d.ConversationKey("conv-1")
	require.NoError(t, err)
	k1b, err := d.ConversationKey("conv-1")
	require.NoError(t, err)
	k2, err := d.ConversationKey("conv-2")
	require.NoError(t, err)

	require.Equal(t, k1a, k1b)
	require.NotEqual(t, k1a, k2)
}

func TestDeriverRejectsEmptySecret(t *testing.T) {
	_, err := NewHKDFDeriver("")
	require.Error(t, err)
}
