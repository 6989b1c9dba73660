// Package quota keeps a local download directory under a share of the
// free space on its filesystem.
package quota

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tinoosan/devsync/internal/data"
	"golang.org/x/sys/unix"
)

// DefaultPercent is the share of free space the data directory may use.
const DefaultPercent = 20

var errDone = errors.New("quota reached")

// Result summarizes one enforcement pass. Sizes are in bytes.
type Result struct {
	Used    int64
	Allowed int64
	Freed   int64
	Removed []string
}

// Enforcer deletes completed files until the directory fits its quota.
type Enforcer struct {
	// FreeSpace reports the bytes available to unprivileged users on the
	// filesystem holding dir. Defaults to statfs.
	FreeSpace func(dir string) (int64, error)
	// Remove deletes one file. Defaults to os.Remove.
	Remove func(path string) error
	log    *slog.Logger
}

// New returns an Enforcer backed by the real filesystem.
func New(log *slog.Logger) *Enforcer {
	if log == nil {
		log = slog.Default()
	}
	return &Enforcer{FreeSpace: StatfsFree, Remove: os.Remove, log: log}
}

// StatfsFree returns the available bytes on the filesystem holding dir.
func StatfsFree(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}

// Enforce sums the regular files under dir and, when the sum is above
// percent of the free space, deletes files in walk order until it is not.
// Files carrying the in-progress marker are never deleted.
func (e *Enforcer) Enforce(dir string, percent int) (Result, error) {
	var res Result
	if dir == "" || percent < 0 || percent > 100 {
		return res, data.ErrBadParameter
	}
	free, remove := e.FreeSpace, e.Remove
	if free == nil {
		free = StatfsFree
	}
	if remove == nil {
		remove = os.Remove
	}
	log := e.log
	if log == nil {
		log = slog.Default()
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		res.Used += info.Size()
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("%w: measure %s: %v", data.ErrSystem, dir, err)
	}
	avail, err := free(dir)
	if err != nil {
		return res, fmt.Errorf("%w: statfs %s: %v", data.ErrSystem, dir, err)
	}
	res.Allowed = avail * int64(percent) / 100
	if res.Used <= res.Allowed {
		return res, nil
	}

	sum := res.Used
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if sum <= res.Allowed {
			return errDone
		}
		if !d.Type().IsRegular() || data.IsInProgress(p) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := remove(p); err != nil {
			log.Warn("quota remove", "path", p, "err", err)
			return nil
		}
		sum -= info.Size()
		res.Freed += info.Size()
		res.Removed = append(res.Removed, p)
		return nil
	})
	if err != nil && !errors.Is(err, errDone) {
		return res, fmt.Errorf("%w: evict %s: %v", data.ErrSystem, dir, err)
	}
	log.Info("quota enforced", "dir", dir, "used", res.Used, "allowed", res.Allowed, "freed", res.Freed, "removed", len(res.Removed))
	return res, nil
}
