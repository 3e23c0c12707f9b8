// Copyright 2026 The Signet Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package token

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// KeySealer converts between SigningKey and its persistence record. Private
// key PEM is sealed with AES-256-GCM under a master key so raw key material
// never reaches storage.
type KeySealer struct {
	masterKey []byte
}

// NewKeySealer creates a sealer from a 32-byte master key
func NewKeySealer(masterKey []byte) (*KeySealer, error) {
	if len(masterKey) != 32 {
		return nil, errors.New("master key must be 32 bytes")
	}
	return &KeySealer{masterKey: masterKey}, nil
}

// Seal produces the storage record for a signing key
func (s *KeySealer) Seal(key *SigningKey) (*SigningKeyRecord, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	sealed, err := s.encrypt(privPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to seal private key: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PrivateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return &SigningKeyRecord{
		KID:                 key.KID,
		Algorithm:           string(key.Algorithm),
		PublicKeyPEM:        string(pubPEM),
		PrivateKeyEncrypted: sealed,
		Status:              string(key.Status),
		CreatedAt:           key.CreatedAt,
		RetiredAt:           key.RetiredAt,
	}, nil
}

// Unseal reconstructs a signing key from its storage record
func (s *KeySealer) Unseal(rec *SigningKeyRecord) (*SigningKey, error) {
	privPEM, err := s.decrypt(rec.PrivateKeyEncrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal private key: %w", err)
	}

	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}

	return &SigningKey{
		KID:        rec.KID,
		Algorithm:  Algorithm(rec.Algorithm),
		PrivateKey: priv,
		Status:     KeyStatus(rec.Status),
		CreatedAt:  rec.CreatedAt,
		RetiredAt:  rec.RetiredAt,
	}, nil
}

func (s *KeySealer) encrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, data, nil), nil
}

func (s *KeySealer) decrypt(data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.masterKey)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
