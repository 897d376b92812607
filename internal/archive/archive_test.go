package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"insights-backend/internal/shared/storage/object"
	"insights-backend/internal/shared/storage/object/local"
)

func TestSaveWritesJSONUnderProcess(t *testing.T) {
	store := local.New(t.TempDir())
	a := New(store)

	if err := a.Save(context.Background(), "p1", "payload", map[string]int{"score": 3}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	rc, err := store.Open(context.Background(), "processes/p1/payload.json")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	var got map[string]int
	data, _ := io.ReadAll(rc)
	if err := json.Unmarshal(data, &got); err != nil || got["score"] != 3 {
		t.Fatalf("unexpected archive %s (%v)", data, err)
	}
}

func TestKeyRejectsTraversal(t *testing.T) {
	for _, tc := range [][2]string{{"", "payload"}, {"p1", ""}, {"../p1", "x"}, {"p1", "a/b"}} {
		if _, err := Key(tc[0], tc[1]); !errors.Is(err, object.ErrInvalidKey) {
			t.Fatalf("Key(%q, %q): expected ErrInvalidKey, got %v", tc[0], tc[1], err)
		}
	}
}

func TestNilArchiveIsNoop(t *testing.T) {
	var a *Archive
	if err := a.Save(context.Background(), "p1", "payload", nil); err != nil {
		t.Fatalf("expected nil archive to be a no-op, got %v", err)
	}
}
