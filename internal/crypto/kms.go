package crypto

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor defines the interface for encryption and decryption of stored values.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSClient is the subset of *kms.Client methods used by KMSService.
type KMSClient interface {
	GenerateDataKey(ctx context.Context, params *kms.GenerateDataKeyInput, optFns ...func(*kms.Options)) (*kms.GenerateDataKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

var errMalformedEnvelope = errors.New("malformed envelope")

// KMSService implements Encryptor with envelope encryption: every value is
// sealed with a fresh data key from KMS, and the wrapped data key travels
// with the ciphertext.
//
// Envelope layout before base64: len(wrappedKey) as uint16 big endian,
// wrappedKey, nonce, sealed payload.
type KMSService struct {
	client KMSClient
	keyID  string
}

// NewKMSService creates a new KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/collab-workspaces").
func NewKMSService(client KMSClient, keyID string) *KMSService {
	return &KMSService{
		client: client,
		keyID:  keyID,
	}
}

// Encrypt seals plaintext under a new data key and returns the base64 envelope.
func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	dk, err := s.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(s.keyID),
		KeySpec: types.DataKeySpecAes256,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate data key: %w", err)
	}
	if len(dk.CiphertextBlob) > 0xFFFF {
		return "", fmt.Errorf("wrapped data key too large: %d bytes", len(dk.CiphertextBlob))
	}

	aead, err := chacha20poly1305.NewX(dk.Plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 2, 2+len(dk.CiphertextBlob)+len(nonce)+len(plaintext)+aead.Overhead())
	binary.BigEndian.PutUint16(out, uint16(len(dk.CiphertextBlob)))
	out = append(out, dk.CiphertextBlob...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt unwraps the data key with KMS and opens the envelope.
func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	if len(raw) < 2 {
		return "", errMalformedEnvelope
	}
	keyLen := int(binary.BigEndian.Uint16(raw))
	raw = raw[2:]
	if len(raw) < keyLen+chacha20poly1305.NonceSizeX {
		return "", errMalformedEnvelope
	}
	wrapped, rest := raw[:keyLen], raw[keyLen:]
	nonce, sealed := rest[:chacha20poly1305.NonceSizeX], rest[chacha20poly1305.NonceSizeX:]

	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: wrapped,
		KeyId:          aws.String(s.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(result.Plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to open envelope: %w", err)
	}
	return string(plain), nil
}
