package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
)

// defaultDirPermissions is used when a directory has to be created
// before its source permissions are known.
const defaultDirPermissions = 0o755

// errNotADirectory is returned when a tree operation gets a plain file.
var errNotADirectory = errors.New("not a directory")

// CopyTree recursively copies the directory at src into dst, preserving file
// permissions. dst must not exist; parent directories are created as needed.
// Symbolic links are recreated pointing at their original targets.
func CopyTree(src, dst string) error {
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("inspect source: %w", err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("%s: %w", src, errNotADirectory)
	}

	if err = os.MkdirAll(filepath.Dir(dst), defaultDirPermissions); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}

	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		relative, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, relative)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}

			return os.Symlink(linkTarget, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

// copyFile copies one regular file preserving its permission bits.
func copyFile(src, dst string, mode os.FileMode) error {
	source, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	destination, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(destination, source); err != nil {
		_ = destination.Close()
		return err
	}

	return destination.Close()
}

// Move renames src to dst, falling back to copy-and-delete when the rename
// crosses filesystems. dst must not exist.
func Move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}

	if copyErr := CopyTree(src, dst); copyErr != nil {
		return fmt.Errorf("cross-device copy: %w", copyErr)
	}

	return os.RemoveAll(src)
}

// ChownTree changes ownership of every entry under root to the named user
// and that user's primary group. A no-op on Windows, where POSIX ownership
// does not apply.
func ChownTree(root, username string) error {
	if runtime.GOOS == "windows" {
		return nil
	}

	account, err := user.Lookup(username)
	if err != nil {
		return fmt.Errorf("lookup user %s: %w", username, err)
	}

	uid, err := strconv.Atoi(account.Uid)
	if err != nil {
		return fmt.Errorf("parse uid: %w", err)
	}

	gid, err := strconv.Atoi(account.Gid)
	if err != nil {
		return fmt.Errorf("parse gid: %w", err)
	}

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if entry.Type()&os.ModeSymlink != 0 {
			// Do not follow links out of the tree.
			return nil
		}

		return os.Chown(path, uid, gid)
	})
}

// TreesEqual reports whether two directory trees have identical structure and
// file contents. Used by tests to assert the preserved-state round trip.
func TreesEqual(a, b string) (bool, error) {
	contentsA, err := snapshot(a)
	if err != nil {
		return false, err
	}

	contentsB, err := snapshot(b)
	if err != nil {
		return false, err
	}

	if len(contentsA) != len(contentsB) {
		return false, nil
	}

	for path, data := range contentsA {
		other, ok := contentsB[path]
		if !ok || data != other {
			return false, nil
		}
	}

	return true, nil
}

// snapshot maps relative paths to file contents, with directories marked.
func snapshot(root string) (map[string]string, error) {
	entries := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if entry.IsDir() {
			entries[relative] = "<dir>"
			return nil
		}

		contents, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return err
		}

		entries[relative] = string(contents)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// EnsureDir creates the directory and its parents when absent.
func EnsureDir(path string) error {
	return os.MkdirAll(path, defaultDirPermissions)
}

// Exists reports whether the path exists at all.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
