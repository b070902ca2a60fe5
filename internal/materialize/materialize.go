// Package materialize implements the materialization engine (C7): writing
// rendered template bytes to their destination durably, and removing them
// cleanly when a source disappears.
//
// Grounded on original_source/src/write.rs's atomic_write/atomic_move
// (tmp file in the same directory, fsync, rename, fsync parent) and on
// secrets/manager.rs's cleanup_parents/bubble_delete for removing now-empty
// directories left behind by a deleted destination.
package materialize

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bpbradley/locket/internal/config"
	locketerrors "github.com/bpbradley/locket/internal/errors"
)

// WriteFile atomically materializes bytes at path: write to a temp file in
// the same directory, set file_mode, fsync, rename over the destination,
// then fsync the parent directory. The same-directory tmp file keeps the
// rename on one filesystem so it stays atomic.
func WriteFile(path string, bytes []byte, fileMode, dirMode uint32, owner *config.Owner) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, os.FileMode(dirMode)); err != nil {
		return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("creating directory %q: %w", dir, err))
	}

	tmp, err := tmpPath(path)
	if err != nil {
		return locketerrors.Materialization("materialize.WriteFile", err)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(fileMode))
	if err != nil {
		return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("creating temp file %q: %w", tmp, err))
	}
	if _, err := f.Write(bytes); err != nil {
		f.Close()
		os.Remove(tmp)
		return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("writing temp file %q: %w", tmp, err))
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("syncing temp file %q: %w", tmp, err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("closing temp file %q: %w", tmp, err))
	}

	if err := os.Chmod(tmp, os.FileMode(fileMode)); err != nil {
		os.Remove(tmp)
		return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("setting mode on %q: %w", tmp, err))
	}

	if owner != nil {
		// Ownership is applied best-effort-but-fatal: a caller who asked for
		// a specific uid/gid needs to know immediately if it could not be
		// honored, rather than silently serving a secret owned by the wrong
		// principal.
		if err := os.Chown(tmp, owner.UID, owner.GID); err != nil {
			os.Remove(tmp)
			return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("chown %q to %d:%d: %w", tmp, owner.UID, owner.GID, err))
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return locketerrors.Materialization("materialize.WriteFile", fmt.Errorf("renaming %q to %q: %w", tmp, path, err))
	}

	fsyncParent(dir)
	return nil
}

// Move renames a materialized destination to a new path, creating the new
// parent directory as needed and fsyncing it afterward. Callers fall back
// to Remove+WriteFile when the rename fails (e.g. across filesystems).
func Move(from, to string) error {
	dir := filepath.Dir(to)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return locketerrors.Materialization("materialize.Move", fmt.Errorf("creating directory %q: %w", dir, err))
	}
	if err := os.Rename(from, to); err != nil {
		return locketerrors.Materialization("materialize.Move", fmt.Errorf("renaming %q to %q: %w", from, to, err))
	}
	fsyncParent(dir)
	return nil
}

// Remove deletes a materialized destination if present, then bubbles up
// removing now-empty parent directories up to (and including) ceiling.
func Remove(path, ceiling string) error {
	if _, err := os.Lstat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return locketerrors.Materialization("materialize.Remove", fmt.Errorf("removing %q: %w", path, err))
		}
	} else if !os.IsNotExist(err) {
		return locketerrors.Materialization("materialize.Remove", fmt.Errorf("stat %q: %w", path, err))
	}

	bubbleDelete(filepath.Dir(path), ceiling)
	return nil
}

// bubbleDelete removes current and each ancestor up to and including
// ceiling, stopping at the first non-empty directory or removal error.
func bubbleDelete(current, ceiling string) {
	ceiling = filepath.Clean(ceiling)
	for {
		current = filepath.Clean(current)
		if !isWithin(current, ceiling) {
			return
		}
		if err := os.Remove(current); err != nil {
			return
		}
		if current == ceiling {
			return
		}
		parent := filepath.Dir(current)
		if parent == current {
			return
		}
		current = parent
	}
}

func isWithin(dir, ceiling string) bool {
	if dir == ceiling {
		return true
	}
	rel, err := filepath.Rel(ceiling, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func tmpPath(path string) (string, error) {
	suffix, err := randomSuffix(8)
	if err != nil {
		return "", fmt.Errorf("generating temp suffix: %w", err)
	}
	return path + ".tmp." + suffix, nil
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n/2+1)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:n], nil
}

// fsyncParent fsyncs a directory for durability where the platform supports
// it; failures are not fatal since not every filesystem exposes a syncable
// directory handle.
func fsyncParent(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}

// DefaultTmpfsFlags are the mount flags MountTmpfs applies unless the caller
// ORs in a superset: rw,noexec,nosuid,nodev. A per-volume tmpfs holds nothing
// but resolved secret bytes, so there is never a reason to exec or set
// setuid/device files from it.
const DefaultTmpfsFlags = unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV

// MountTmpfs mounts a private tmpfs at target for an in-memory volume (C10),
// with flags defaulting to DefaultTmpfsFlags. Grounded on
// rahoogan-docker-volume-secrets, which mounts per-volume tmpfs so resolved
// secrets never touch a persistent filesystem.
func MountTmpfs(target string, sizeBytes int64, flags ...uintptr) error {
	if err := os.MkdirAll(target, 0o700); err != nil {
		return locketerrors.Materialization("materialize.MountTmpfs", fmt.Errorf("creating mount point %q: %w", target, err))
	}
	mountFlags := uintptr(DefaultTmpfsFlags)
	for _, f := range flags {
		mountFlags |= f
	}
	opts := fmt.Sprintf("size=%d,mode=0700", sizeBytes)
	if err := unix.Mount("tmpfs", target, "tmpfs", mountFlags, opts); err != nil {
		return locketerrors.Materialization("materialize.MountTmpfs", fmt.Errorf("mounting tmpfs at %q: %w", target, err))
	}
	return nil
}

// UnmountTmpfs unmounts a tmpfs previously mounted by MountTmpfs.
func UnmountTmpfs(target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		return locketerrors.Materialization("materialize.UnmountTmpfs", fmt.Errorf("unmounting %q: %w", target, err))
	}
	return nil
}
