// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Martin Feldt

// Package blockcrypt wraps the AES and HMAC-SHA256 primitives shared by the
// radio link and the appliance socket.
//
// Both protocols derive their working keys from a single 32-byte base secret
// with labelled HMAC invocations, authenticate with truncated HMAC-SHA256
// tags, and encrypt whole AES blocks only. This package keeps those
// operations in one place so the protocol packages stay free of cipher
// bookkeeping.
package blockcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// BlockSize is the AES block size in bytes.
const BlockSize = aes.BlockSize

// KeySize is the required size of base secrets and derived keys.
const KeySize = 32

// DeriveKey derives a 32-byte working key from a base key and an ASCII
// label, as HMAC-SHA256(base, label).
func DeriveKey(base []byte, label string) []byte {
	mac := hmac.New(sha256.New, base)
	mac.Write([]byte(label))
	return mac.Sum(nil)
}

// Tag computes HMAC-SHA256(key, data) truncated to n bytes.
func Tag(key, data []byte, n int) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)[:n]
}

// TagEqual compares a received truncated tag in constant time.
func TagEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// ECB provides raw AES-256 block operations. Each block is encrypted
// independently; the protocols re-randomize every frame, so there is no
// chaining state to carry.
type ECB struct {
	block cipher.Block
}

// NewECB creates an ECB codec for a 32-byte key.
func NewECB(key []byte) (*ECB, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &ECB{block: block}, nil
}

// EncryptBlocks encrypts src into dst block by block. Both slices must have
// the same length, a multiple of the block size.
func (e *ECB) EncryptBlocks(dst, src []byte) error {
	if err := checkBlocks(dst, src); err != nil {
		return err
	}
	for i := 0; i < len(src); i += BlockSize {
		e.block.Encrypt(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return nil
}

// DecryptBlocks decrypts src into dst block by block.
func (e *ECB) DecryptBlocks(dst, src []byte) error {
	if err := checkBlocks(dst, src); err != nil {
		return err
	}
	for i := 0; i < len(src); i += BlockSize {
		e.block.Decrypt(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return nil
}

func checkBlocks(dst, src []byte) error {
	if len(src) == 0 || len(src)%BlockSize != 0 {
		return fmt.Errorf("data size %d is not a multiple of the block size", len(src))
	}
	if len(dst) != len(src) {
		return fmt.Errorf("dst size %d does not match src size %d", len(dst), len(src))
	}
	return nil
}

// CBC provides AES-256-CBC with a fixed IV. The chaining state is reset for
// every call; freshness comes from the MAC chain above this layer, not from
// the IV. Callers pass buffers that are already padded to whole blocks.
type CBC struct {
	block cipher.Block
	iv    []byte
}

// NewCBC creates a CBC codec for a 32-byte key and a 16-byte IV.
func NewCBC(key, iv []byte) (*CBC, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("invalid key size: %d", len(key))
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("invalid IV size: %d", len(iv))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CBC{block: block, iv: append([]byte(nil), iv...)}, nil
}

// Encrypt encrypts src into a fresh slice.
func (c *CBC) Encrypt(src []byte) ([]byte, error) {
	if len(src) == 0 || len(src)%BlockSize != 0 {
		return nil, fmt.Errorf("plaintext size %d is not a multiple of the block size", len(src))
	}
	dst := make([]byte, len(src))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(dst, src)
	return dst, nil
}

// Decrypt decrypts src into a fresh slice.
func (c *CBC) Decrypt(src []byte) ([]byte, error) {
	if len(src) == 0 || len(src)%BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext size %d is not a multiple of the block size", len(src))
	}
	dst := make([]byte, len(src))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(dst, src)
	return dst, nil
}

// RandomBytes fills p with cryptographically uniform random bytes.
func RandomBytes(p []byte) error {
	_, err := rand.Read(p)
	return err
}

// DecodeBase64URL decodes a base64url-encoded secret and checks that it has
// exactly the expected size. Trailing padding is tolerated; appliance
// profiles ship keys both with and without it.
func DecodeBase64URL(s string, size int) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("invalid base64url value: %w", err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("decoded %d bytes, expected %d", len(b), size)
	}
	return b, nil
}
