package crypto

import (
	"context"
	"strings"
)

const mockPrefix = "mock:"

// MockEncryptor implements Encryptor for local development (no KMS required).
// It only tags values so that sealed data is recognisable in storage.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return mockPrefix + plaintext, nil
}

// Decrypt strips the tag. Untagged values are returned as they are, so data
// written before sealing was enabled stays readable.
func (m *MockEncryptor) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	return strings.TrimPrefix(ciphertext, mockPrefix), nil
}
