package fs

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"stockcore/internal/blob/core"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	s, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	info, err := s.Put(ctx, "exports/2025/movements.csv", strings.NewReader("a,b\n"), core.PutOptions{ContentType: "text/csv", Metadata: map[string]string{"rows": "1"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 4 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "exports/2025/movements.csv", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	head, err := s.Head(ctx, "exports/2025/movements.csv")
	if err != nil || head.ContentType != "text/csv" || head.Metadata["rows"] != "1" {
		t.Fatalf("head: %+v %v", head, err)
	}
	_, rc, err := s.Get(ctx, "exports/2025/movements.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "a,b\n" {
		t.Fatalf("body = %q", body)
	}
	url, err := s.PresignURL(ctx, "exports/2025/movements.csv", 0)
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("presign: %s %v", url, err)
	}
	list, err := s.List(ctx, "exports/")
	if err != nil || len(list) != 1 || list[0].Key != "exports/2025/movements.csv" {
		t.Fatalf("list: %+v %v", list, err)
	}
	if ok, err := s.Delete(ctx, "exports/2025/movements.csv"); !ok || err != nil {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if _, err := s.Head(ctx, "exports/2025/movements.csv"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFilesystemStoreRejectsBadKeys(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "/abs", "../escape", "a/../../b", "x.meta"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected %q to be rejected", key)
		}
	}
	if _, err := New(""); err == nil {
		t.Fatalf("expected empty root to be rejected")
	}
}
