package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

const workspaceExt = ".workspace.json"

// DirBackend stores each workspace as <dir>/<login>.workspace.json.
type DirBackend struct {
	dir string
}

// NewDirBackend creates dir if needed and returns a backend over it.
func NewDirBackend(dir string) (*DirBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace dir: %w", err)
	}
	return &DirBackend{dir: dir}, nil
}

func (b *DirBackend) path(login string) (string, error) {
	if login == "" || login == "." || login == ".." || strings.ContainsAny(login, `/\`) {
		return "", fmt.Errorf("login %q: %w", login, model.ErrInvalidName)
	}
	return filepath.Join(b.dir, login+workspaceExt), nil
}

func (b *DirBackend) Load(_ context.Context, login string) (string, bool, error) {
	p, err := b.path(login)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Save writes to a temporary file and renames it over the old one, so
// readers never see a partial blob.
func (b *DirBackend) Save(_ context.Context, login, blob string) error {
	p, err := b.path(login)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(b.dir, login+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
