package recorder

import (
	"fmt"
	"io"
	"os"
)

// LocalStorage implements Storage on the local filesystem.
type LocalStorage struct{}

func (LocalStorage) EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// Remove deletes path; a missing file is not an error.
func (LocalStorage) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (LocalStorage) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close destination: %w", err)
	}
	return nil
}

func (LocalStorage) Stat(path string) (FileInfo, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return FileInfo{}, nil
	}
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Exists: true, Size: info.Size()}, nil
}
