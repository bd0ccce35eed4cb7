// Copyright (c) 2026 Loop Server. All rights reserved.

package sec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo binds derived encryption keys to this specific purpose so the same
// (secret, token) pair can never be reused for another scheme.
const hkdfInfo = "loop-server/encrypted-identifier"

// deriveKey expands a per-session AES-256 key from the server secret and the
// session token via HKDF-SHA256. Only a holder of the session token can
// re-derive the key, so the stored ciphertext is opaque to everyone else,
// including the server operator inspecting the database.
func deriveKey(serverSecret, sessionToken string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(sessionToken), []byte(serverSecret), []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("sec: key derivation failed: %w", err)
	}
	return key, nil
}

// EncryptIdentifier seals a verified real identifier under a key derived from
// the session token. The output is base64 of nonce||ciphertext.
func EncryptIdentifier(serverSecret, sessionToken, identifier string) (string, error) {
	key, err := deriveKey(serverSecret, sessionToken)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("sec: cipher init failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("sec: gcm init failed: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sec: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(identifier), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptIdentifier recovers a real identifier previously sealed with
// [EncryptIdentifier] using the same session token.
func DecryptIdentifier(serverSecret, sessionToken, encoded string) (string, error) {
	key, err := deriveKey(serverSecret, sessionToken)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("sec: invalid ciphertext encoding: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("sec: cipher init failed: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("sec: gcm init failed: %w", err)
	}

	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("sec: ciphertext too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("sec: decryption failed: %w", err)
	}

	return string(plain), nil
}
