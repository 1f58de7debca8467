package repodir

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

type fakeResolver map[string]string

func (f fakeResolver) ResolveIdentity(tokenID string) (model.Identity, error) {
	login, ok := f[tokenID]
	if !ok {
		return model.Identity{}, model.ErrUnauthorized
	}
	return model.Identity{Login: login}, nil
}

func testDirectory() *Directory {
	return NewDirectory(fakeResolver{"ta": "alice", "tb": "bob"}, logger.Discard())
}

func TestDirectory_CreateAndList(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	slug, err := d.Create(ctx, "ta", "proj")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if slug != "alice/proj" {
		t.Errorf("slug = %q, want %q", slug, "alice/proj")
	}

	list, err := d.List(ctx, "ta")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0] != "alice/proj" {
		t.Errorf("List = %v, want [alice/proj]", list)
	}

	other, _ := d.List(ctx, "tb")
	if len(other) != 0 {
		t.Errorf("bob should own nothing, got %v", other)
	}
}

func TestDirectory_CreateDuplicate(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	d.Create(ctx, "ta", "proj")
	_, err := d.Create(ctx, "ta", "proj")
	if !errors.Is(err, model.ErrDuplicateRepository) {
		t.Fatalf("expected ErrDuplicateRepository, got %v", err)
	}

	// Same name under another owner is a different slug.
	if _, err := d.Create(ctx, "tb", "proj"); err != nil {
		t.Errorf("bob/proj should be creatable: %v", err)
	}
}

func TestDirectory_CreateInvalidName(t *testing.T) {
	d := testDirectory()
	for _, name := range []string{"", "   ", "a/b", "..", "."} {
		if _, err := d.Create(context.Background(), "ta", name); !errors.Is(err, model.ErrInvalidName) {
			t.Errorf("name %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

func TestDirectory_Unauthorized(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	if _, err := d.Create(ctx, "nope", "proj"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("Create: expected ErrUnauthorized, got %v", err)
	}
	if _, err := d.List(ctx, "nope"); !errors.Is(err, model.ErrUnauthorized) {
		t.Errorf("List: expected ErrUnauthorized, got %v", err)
	}
}

func TestDirectory_SeededReposAreShared(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	if err := d.Seed("dubious-developments/editor-test"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	d.Create(ctx, "ta", "proj")

	for token, want := range map[string][]string{
		"ta": {"alice/proj", "dubious-developments/editor-test"},
		"tb": {"dubious-developments/editor-test"},
	} {
		got, _ := d.List(ctx, token)
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("List(%s) = %v, want %v", token, got, want)
		}
	}

	repo, ok := d.repos["dubious-developments/editor-test"]
	if !ok || !repo.Shared || repo.Owner != "dubious-developments" {
		t.Errorf("seeded repo = %+v, %v", repo, ok)
	}
}

func TestDirectory_SeedOwnRepoIsNotListedTwice(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	d.Create(ctx, "ta", "proj")
	d.Seed("alice/proj", "alice/proj")

	got, _ := d.List(ctx, "ta")
	if len(got) != 1 {
		t.Errorf("List = %v, want a single entry", got)
	}
}

func TestDirectory_SeedInvalidSlug(t *testing.T) {
	d := testDirectory()
	for _, slug := range []string{"noslash", "/name", "owner/", "a/b/c"} {
		if err := d.Seed(slug); !errors.Is(err, model.ErrInvalidName) {
			t.Errorf("Seed(%q): expected ErrInvalidName, got %v", slug, err)
		}
	}
}

func TestDirectory_Exists(t *testing.T) {
	d := testDirectory()
	d.Create(context.Background(), "ta", "proj")

	if !d.Exists("alice/proj") {
		t.Error("alice/proj should exist")
	}
	if d.Exists("alice/other") {
		t.Error("alice/other should not exist")
	}
}

func TestDirectory_ConcurrentCreateSameName(t *testing.T) {
	d := testDirectory()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Create(context.Background(), "ta", "race"); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("expected exactly one successful create, got %d", created)
	}
}
