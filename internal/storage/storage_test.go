package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"montage/internal/storage"
)

func newGateway(t *testing.T) *storage.FSGateway {
	t.Helper()
	g, err := storage.NewFSGateway(filepath.Join(t.TempDir(), "store"), true)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func writeLocal(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	src := writeLocal(t, "final.mp4", "stitched video")

	if err := g.Upload(ctx, src, "videos/42/final.mp4"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	info, err := g.Stat(ctx, "videos/42/final.mp4")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != int64(len("stitched video")) {
		t.Fatalf("size = %d", info.Size)
	}

	dst := filepath.Join(t.TempDir(), "fetched.mp4")
	if err := g.Download(ctx, "videos/42/final.mp4", dst); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "stitched video" {
		t.Fatalf("content = %q", got)
	}
}

func TestDownloadMissingKey(t *testing.T) {
	g := newGateway(t)
	err := g.Download(context.Background(), "units/1/absent.mp4", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	src := writeLocal(t, "clip.mp4", "x")
	if err := g.Upload(ctx, src, "units/1/clip.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := g.Delete(ctx, "units/1/clip.mp4"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := g.Delete(ctx, "units/1/clip.mp4"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := g.Stat(ctx, "units/1/clip.mp4"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Stat after delete = %v", err)
	}
}

func TestKeysCannotEscapeRoot(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	src := writeLocal(t, "evil", "x")

	if err := g.Upload(ctx, src, "../outside.bin"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := g.Stat(ctx, "../outside.bin"); err != nil {
		t.Fatalf("object should land inside root: %v", err)
	}
	outside := filepath.Join(filepath.Dir(g.Root()), "outside.bin")
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Fatal("object escaped the storage root")
	}
}

func TestPresignedURL(t *testing.T) {
	g := newGateway(t)
	ctx := context.Background()
	src := writeLocal(t, "final.mp4", "v")
	if err := g.Upload(ctx, src, "videos/7/final.mp4"); err != nil {
		t.Fatal(err)
	}

	u, err := g.PresignedURL(ctx, "videos/7/final.mp4", time.Hour)
	if err != nil {
		t.Fatalf("PresignedURL: %v", err)
	}
	if !strings.HasPrefix(u, "file://") {
		t.Fatalf("url = %q", u)
	}

	if _, err := g.PresignedURL(ctx, "videos/7/final.mp4", 0); err == nil {
		t.Fatal("expected ttl validation error")
	}
	if _, err := g.PresignedURL(ctx, "videos/7/missing.mp4", time.Hour); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing key err = %v", err)
	}
}
