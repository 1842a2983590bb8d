// Package kms seals payloads with envelope encryption under rotating KEKs.
package kms

import (
	"bytes"
	"context"
	"crypto/sha256"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gkms "github.com/Laisky/go-utils/v6/crypto/kms"
	"github.com/Laisky/go-utils/v6/crypto/kms/mem"
)

// sealedPrefix marks sealed payloads so plain ones stay readable.
var sealedPrefix = []byte("codepatch-sealed:")

// ParseKEKs parses "id:secret" entries. Ids must be unique and non-zero.
func ParseKEKs(entries []string) (map[uint16]string, error) {
	keks := make(map[uint16]string, len(entries))
	for _, entry := range entries {
		rawID, secret, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			return nil, errors.New("kek entry must look like <id>:<secret>")
		}
		id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 16)
		if err != nil || id == 0 {
			return nil, errors.Errorf("invalid kek id %q", rawID)
		}
		if _, dup := keks[uint16(id)]; dup {
			return nil, errors.Errorf("duplicate kek id %d", id)
		}
		keks[uint16(id)] = secret
	}
	return keks, nil
}

// Sealer encrypts under the KEK with the largest id and opens payloads
// sealed under any configured KEK.
type Sealer struct {
	kms gkms.Interface
}

// NewSealer hashes every KEK secret to 32 bytes and builds an in-memory KMS.
func NewSealer(keks map[uint16]string) (*Sealer, error) {
	if len(keks) == 0 {
		return nil, errors.New("at least one kek is required")
	}

	hashed := make(map[uint16][]byte, len(keks))
	for id, rawSecret := range keks {
		secret := strings.TrimSpace(rawSecret)
		if len(secret) <= 16 {
			return nil, errors.Errorf("kek %d must be longer than 16 characters", id)
		}
		sum := sha256.Sum256([]byte(secret))
		hashed[id] = sum[:]
	}

	client, err := mem.New(hashed)
	if err != nil {
		return nil, errors.Wrap(err, "init memory kms")
	}
	return &Sealer{kms: client}, nil
}

// IsSealed reports whether payload came from Seal.
func IsSealed(payload []byte) bool {
	return bytes.HasPrefix(payload, sealedPrefix)
}

// Seal encrypts plaintext bound to aad.
func (s *Sealer) Seal(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	encrypted, err := s.kms.Encrypt(ctx, plaintext, aad)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt payload")
	}
	payload, err := encrypted.MarshalToString()
	if err != nil {
		return nil, errors.Wrap(err, "marshal encrypted payload")
	}
	return append(append([]byte{}, sealedPrefix...), payload...), nil
}

// Open decrypts a payload produced by Seal with the same aad.
func (s *Sealer) Open(ctx context.Context, sealed, aad []byte) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, errors.New("payload is not sealed")
	}

	var encrypted gkms.EncryptedData
	if err := encrypted.UnmarshalFromString(string(sealed[len(sealedPrefix):])); err != nil {
		return nil, errors.Wrap(err, "unmarshal encrypted payload")
	}
	plaintext, err := s.kms.Decrypt(ctx, &encrypted, aad)
	if err != nil {
		return nil, errors.Wrap(err, "decrypt payload")
	}
	return plaintext, nil
}
