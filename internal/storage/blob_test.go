package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newLocalStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func TestLocalStore_PutGetDelete(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()
	ref := "documents/2026/03/offer-letter.html"

	if err := store.Put(ctx, ref, strings.NewReader("<p>hello</p>"), "text/html"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if string(data) != "<p>hello</p>" {
		t.Errorf("blob content = %q", data)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, ref); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get after delete = %v, want ErrBlobNotFound", err)
	}
}

func TestLocalStore_OverwriteReplacesContent(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "doc.html", strings.NewReader("first"), "text/html"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "doc.html", strings.NewReader("second"), "text/html"); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}

	rc, err := store.Get(ctx, "doc.html")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("blob content = %q, want %q", data, "second")
	}
}

func TestLocalStore_GetMissing(t *testing.T) {
	store := newLocalStore(t)
	if _, err := store.Get(context.Background(), "never/written.html"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Get = %v, want ErrBlobNotFound", err)
	}
}

func TestLocalStore_DeleteMissingIsNil(t *testing.T) {
	store := newLocalStore(t)
	if err := store.Delete(context.Background(), "never/written.html"); err != nil {
		t.Errorf("Delete = %v, want nil", err)
	}
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocalStore(filepath.Join(base, "blobs"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()

	refs := []string{"../escape.txt", "a/../../escape.txt", "", "/"}
	for _, ref := range refs {
		if err := store.Put(ctx, ref, strings.NewReader("x"), "text/plain"); err == nil {
			t.Errorf("Put(%q) accepted a bad reference", ref)
		}
		if _, err := store.Get(ctx, ref); err == nil || errors.Is(err, ErrBlobNotFound) {
			t.Errorf("Get(%q) = %v, want a reference error", ref, err)
		}
	}

	if _, err := os.Stat(filepath.Join(base, "escape.txt")); !os.IsNotExist(err) {
		t.Error("a traversal reference escaped the base directory")
	}
}
