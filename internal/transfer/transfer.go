// Package transfer implements the two-phase download used by every loop:
// bytes land in a file carrying the in-progress marker and only a fully
// received file is renamed to its final name. An interrupted transfer
// resumes from the partial file on the next attempt.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/transport"
)

// Options control how the remote side is treated.
type Options struct {
	// MarkRemote renames the remote file to the marker name before
	// streaming and deletes it once the local file is final.
	MarkRemote bool
	// RemoteMarked says the remote file already carries the marker from a
	// previous interrupted attempt. It is deleted once the local file is
	// final.
	RemoteMarked bool
	Progress     transport.ProgressFunc
}

// Result describes a finished transfer.
type Result struct {
	Path    string
	Bytes   int64
	Resumed bool
}

// Fetcher downloads remote files into LocalDir over T.
type Fetcher struct {
	T        transport.Transport
	LocalDir string
}

// PartialPath is where name is written while in progress.
func (f Fetcher) PartialPath(name string) string {
	return filepath.Join(f.LocalDir, data.InProgressName(name))
}

// FinalPath is where name lives once complete.
func (f Fetcher) FinalPath(name string) string {
	return filepath.Join(f.LocalDir, name)
}

// Fetch transfers remoteDir/name. name is the plain (unmarked) file name.
//
// Errors wrap data.ErrCanceled, data.ErrTransport or data.ErrFile. The
// partial file is kept on every failure so a later call resumes it.
func (f Fetcher) Fetch(ctx context.Context, remoteDir, name string, opts Options) (Result, error) {
	if f.T == nil || name == "" {
		return Result{}, data.ErrBadParameter
	}
	final, partial := f.FinalPath(name), f.PartialPath(name)
	remote := path.Join(remoteDir, name)
	marked := path.Join(remoteDir, data.InProgressName(name))
	removeRemote := opts.MarkRemote || opts.RemoteMarked

	if opts.RemoteMarked {
		remote = marked
	}
	if opts.MarkRemote {
		if err := f.T.Rename(ctx, remote, marked); err != nil {
			return Result{}, classify("mark "+name, err)
		}
		remote = marked
	}

	resume := false
	if !opts.MarkRemote {
		if _, err := os.Stat(partial); err == nil {
			resume = true
		}
	}
	if err := f.T.Get(ctx, remote, partial, resume, opts.Progress); err != nil {
		return Result{}, classify("get "+name, err)
	}

	res := Result{Path: final, Resumed: resume}
	if fi, err := os.Stat(partial); err == nil {
		res.Bytes = fi.Size()
	}
	if err := os.Rename(partial, final); err != nil {
		return res, fmt.Errorf("%w: finalize %s: %v", data.ErrFile, name, err)
	}
	if removeRemote {
		if err := f.T.Delete(ctx, remote); err != nil {
			return res, classify("delete remote "+name, err)
		}
	}
	return res, nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, transport.ErrCanceled), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s", data.ErrCanceled, op)
	case errors.Is(err, data.ErrCanceled), errors.Is(err, data.ErrTransport):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", data.ErrTransport, op, err)
	}
}

// Classify maps a transport error onto the engine's sentinels.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	return classify(op, err)
}
