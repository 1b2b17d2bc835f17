package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"

	"chatrixx/pkg/faults"
)

const tagSize = 16

// Encrypt seals plaintext with AES-256-GCM under key. The nonce is freshly
// random per call; the auth tag is returned separately so stored records
// carry (ciphertext, nonce, tag) as distinct fields.
func Encrypt(plaintext, key []byte) (ciphertext, nonce, tag []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ciphertext = sealed[:len(sealed)-tagSize]
	tag = sealed[len(sealed)-tagSize:]
	return ciphertext, nonce, tag, nil
}

// Decrypt opens (ciphertext, nonce, tag) with key. Tag mismatch or corrupt
// input yields a DecryptionFailed fault; callers substitute a placeholder
// instead of failing the whole response.
func Decrypt(ciphertext, nonce, tag, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, faults.Wrap(faults.DecryptionFailed, err, "bad key")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, faults.Wrap(faults.DecryptionFailed, err, "cipher init failed")
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != tagSize {
		return nil, faults.New(faults.DecryptionFailed, "corrupt nonce or tag")
	}
	sealed := append(append([]byte(nil), ciphertext...), tag...)
	pt, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, faults.Wrap(faults.DecryptionFailed, err, "authentication failed")
	}
	return pt, nil
}

// EncryptString encrypts plaintext and returns the base64-encoded triple
// stored on a message record.
func EncryptString(plaintext string, key []byte) (ciphertext, nonce, tag string, err error) {
	ct, n, tg, err := Encrypt([]byte(plaintext), key)
	if err != nil {
		return "", "", "", err
	}
	enc := base64.StdEncoding
	return enc.EncodeToString(ct), enc.EncodeToString(n), enc.EncodeToString(tg), nil
}

// DecryptString reverses EncryptString.
func DecryptString(ciphertext, nonce, tag string, key []byte) (string, error) {
	enc := base64.StdEncoding
	ct, err := enc.DecodeString(ciphertext)
	if err != nil {
		return "", faults.Wrap(faults.DecryptionFailed, err, "corrupt ciphertext")
	}
	n, err := enc.DecodeString(nonce)
	if err != nil {
		return "", faults.Wrap(faults.DecryptionFailed, err, "corrupt nonce")
	}
	tg, err := enc.DecodeString(tag)
	if err != nil {
		return "", faults.Wrap(faults.DecryptionFailed, err, "corrupt tag")
	}
	pt, err := Decrypt(ct, n, tg, key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
