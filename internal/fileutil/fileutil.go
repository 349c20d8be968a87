// Package fileutil provides file copy and hashing helpers shared by the
// storage gateway and the staging workspace.
package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CopyFile copies src to dst, creating parent directories as needed.
// The destination is written with 0644 permissions.
func CopyFile(src, dst string) error {
	return copyFile(src, dst, 0o644)
}

// CopyFileMode copies src to dst with an explicit destination mode.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	return copyFile(src, dst, mode)
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("copy data: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close destination: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize destination: %w", err)
	}
	return nil
}

// CopyFileVerified copies src to dst and confirms the destination hash
// matches the source. Used for final video uploads where silent corruption
// would be expensive to discover later.
func CopyFileVerified(src, dst string) error {
	srcSum, err := HashFile(src)
	if err != nil {
		return err
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	dstSum, err := HashFile(dst)
	if err != nil {
		return err
	}
	if srcSum != dstSum {
		os.Remove(dst)
		return fmt.Errorf("copy verification failed for %s: checksum mismatch", filepath.Base(dst))
	}
	return nil
}

// HashFile returns the hex SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FreeSpace reports the free bytes available on the filesystem containing path.
func FreeSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// EnsureFreeSpace returns an error when the filesystem containing path has
// fewer than minGiB gibibytes available.
func EnsureFreeSpace(path string, minGiB int) error {
	if minGiB <= 0 {
		return nil
	}
	free, err := FreeSpace(path)
	if err != nil {
		return err
	}
	required := uint64(minGiB) << 30
	if free < required {
		return fmt.Errorf("insufficient disk space in %s: %d GiB free, need %d GiB",
			path, free>>30, minGiB)
	}
	return nil
}

// FileSize returns the size in bytes of a regular file.
func FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}
