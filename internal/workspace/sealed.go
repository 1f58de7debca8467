package workspace

import (
	"context"
	"fmt"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/crypto"
)

// Sealed encrypts blobs before they reach the wrapped backend.
type Sealed struct {
	next Backend
	enc  crypto.Encryptor
}

// NewSealed wraps next with enc.
func NewSealed(next Backend, enc crypto.Encryptor) *Sealed {
	return &Sealed{next: next, enc: enc}
}

func (s *Sealed) Load(ctx context.Context, login string) (string, bool, error) {
	sealed, ok, err := s.next.Load(ctx, login)
	if err != nil || !ok {
		return "", ok, err
	}
	blob, err := s.enc.Decrypt(ctx, sealed)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt workspace: %w", err)
	}
	return blob, true, nil
}

func (s *Sealed) Save(ctx context.Context, login, blob string) error {
	sealed, err := s.enc.Encrypt(ctx, blob)
	if err != nil {
		return fmt.Errorf("failed to encrypt workspace: %w", err)
	}
	return s.next.Save(ctx, login, sealed)
}
