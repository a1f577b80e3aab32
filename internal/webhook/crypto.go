package webhook

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Vendor webhook crypto parameters: the signature is a SHA-1 hex digest of
// the four delivery fields sorted lexicographically and concatenated; the
// payload is AES-CBC with the key taken from the first 24 bytes of the
// client secret and the IV from the first 16 bytes of the client id.
const (
	aesKeySize = 24
	aesIVSize  = 16
)

// Signature computes the expected delivery signature.
func Signature(clientID string, timestamp int64, nonce, dataEncrypt string) string {
	fields := []string{clientID, strconv.FormatInt(timestamp, 10), nonce, dataEncrypt}
	sort.Strings(fields)
	sum := sha1.Sum([]byte(strings.Join(fields, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature checks a delivery signature in constant time.
func VerifySignature(clientID string, timestamp int64, nonce, dataEncrypt, signature string) bool {
	expected := Signature(clientID, timestamp, nonce, dataEncrypt)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(signature))) == 1
}

// Decrypt recovers the payload from a base64 AES-CBC ciphertext.
func Decrypt(dataEncrypt, clientID, clientSecret string) ([]byte, error) {
	key, iv, err := deriveKeyIV(clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(dataEncrypt)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return stripPKCS7(plaintext)
}

// Encrypt is the inverse of Decrypt. The ingestor never needs it; it exists
// for building test deliveries and local tooling.
func Encrypt(plaintext []byte, clientID, clientSecret string) (string, error) {
	key, iv, err := deriveKeyIV(clientID, clientSecret)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	padded := padPKCS7(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func deriveKeyIV(clientID, clientSecret string) ([]byte, []byte, error) {
	key := []byte(clientSecret)
	if len(key) < aesKeySize {
		return nil, nil, fmt.Errorf("client secret shorter than %d bytes", aesKeySize)
	}
	iv := []byte(clientID)
	if len(iv) < aesIVSize {
		return nil, nil, fmt.Errorf("client id shorter than %d bytes", aesIVSize)
	}
	return key[:aesKeySize], iv[:aesIVSize], nil
}

func stripPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}

func padPKCS7(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	return padded
}
