package backup

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Snapshot layout: [magic][16-byte salt][12-byte nonce][AES-256-GCM ciphertext].
var magic = []byte("FLOCKBK1")

const (
	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	argonTime = 3
	argonMem  = 64 * 1024
	argonPar  = 4
)

var (
	ErrNotSnapshot   = errors.New("not a flock snapshot")
	ErrBadPassphrase = errors.New("wrong passphrase or corrupted snapshot")
)

// DeriveKey derives a 32-byte AES-256 key from a passphrase and salt using Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMem, argonPar, keySize)
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(DeriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with a fresh salt and nonce.
func Seal(plaintext []byte, passphrase string) ([]byte, error) {
	header := make([]byte, len(magic)+saltSize+nonceSize)
	copy(header, magic)
	salt := header[len(magic) : len(magic)+saltSize]
	nonce := header[len(magic)+saltSize:]
	if _, err := io.ReadFull(rand.Reader, header[len(magic):]); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	// the header is authenticated along with the data
	return gcm.Seal(header, nonce, plaintext, header), nil
}

// Open reverses Seal.
func Open(data []byte, passphrase string) ([]byte, error) {
	headerSize := len(magic) + saltSize + nonceSize
	if len(data) < headerSize || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrNotSnapshot
	}
	header := data[:headerSize]
	salt := header[len(magic) : len(magic)+saltSize]
	nonce := header[len(magic)+saltSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[headerSize:], header)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plaintext, nil
}
