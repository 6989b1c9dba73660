// Package memtransport is an in-memory Transport used to exercise the sync
// engine without a device. It supports cancellation from another
// goroutine, failure injection and a hold point inside Get so tests can
// interrupt a transfer mid-stream.
package memtransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tinoosan/devsync/internal/transport"
)

const defaultChunk = 64 * 1024

// Mem is an in-memory device file tree behind a single connection handle.
// Several handles can share one tree with Handle.
type Mem struct {
	tree *tree

	mu        sync.Mutex
	canceled  bool
	cancelCh  chan struct{}
	connected bool
	connects  int
	disconns  int

	// ChunkSize is the streaming granularity of Get and Put.
	ChunkSize int
	// Hold, when non-nil, blocks every Get after its first chunk until a
	// value is received or the handle is canceled.
	Hold chan struct{}
	// Started receives the remote path of each Get as it begins, if set.
	Started chan string
	// Held receives the remote path of each Get parked on Hold, if set.
	Held chan string

	inflight    int
	maxInflight int
}

type tree struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	fails map[string]error
	ops   []string
}

// New returns an empty tree with one handle.
func New() *Mem {
	t := &tree{files: map[string][]byte{}, dirs: map[string]bool{"/": true}, fails: map[string]error{}}
	return newHandle(t)
}

func newHandle(t *tree) *Mem {
	return &Mem{tree: t, cancelCh: make(chan struct{}), ChunkSize: defaultChunk}
}

// Handle returns a new, independent handle on the same file tree.
func (m *Mem) Handle() *Mem { return newHandle(m.tree) }

var _ transport.Transport = (*Mem)(nil)

func clean(p string) string { return path.Clean("/" + p) }

// AddFile stores content at p, creating parent directories.
func (m *Mem) AddFile(p string, content []byte) {
	p = clean(p)
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	m.tree.files[p] = append([]byte(nil), content...)
	for d := path.Dir(p); ; d = path.Dir(d) {
		m.tree.dirs[d] = true
		if d == "/" {
			break
		}
	}
}

// AddDir creates an empty directory.
func (m *Mem) AddDir(p string) {
	m.AddFile(path.Join(clean(p), ".keep"), nil)
	m.tree.mu.Lock()
	delete(m.tree.files, path.Join(clean(p), ".keep"))
	m.tree.mu.Unlock()
}

// File returns the content at p.
func (m *Mem) File(p string) ([]byte, bool) {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	b, ok := m.tree.files[clean(p)]
	return append([]byte(nil), b...), ok
}

// Fail makes every op on p return err until cleared with a nil err.
// op is one of list, get, put, delete, rename, size.
func (m *Mem) Fail(op, p string, err error) {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	k := op + " " + clean(p)
	if err == nil {
		delete(m.tree.fails, k)
		return
	}
	m.tree.fails[k] = err
}

// Ops returns the operations performed on the tree, "op path" each.
func (m *Mem) Ops() []string {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	return append([]string(nil), m.tree.ops...)
}

// MaxConcurrentGets is the highest number of overlapping Get calls seen on
// this handle.
func (m *Mem) MaxConcurrentGets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInflight
}

// Connects returns how many times Connect or Reconnect succeeded.
func (m *Mem) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

func (m *Mem) record(op, p string) error {
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	m.tree.ops = append(m.tree.ops, op+" "+clean(p))
	return m.tree.fails[op+" "+clean(p)]
}

func (m *Mem) Connect(ctx context.Context) error {
	if err := m.IsCanceled(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.connects++
	return nil
}

func (m *Mem) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconns++
	return nil
}

func (m *Mem) Reconnect(ctx context.Context) error {
	_ = m.Disconnect()
	return m.Connect(ctx)
}

func (m *Mem) List(ctx context.Context, dir string) (string, error) {
	if err := m.IsCanceled(); err != nil {
		return "", err
	}
	if err := m.record("list", dir); err != nil {
		return "", err
	}
	dir = clean(dir)
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	if !m.tree.dirs[dir] {
		return "", fmt.Errorf("list %s: %w", dir, os.ErrNotExist)
	}
	var lines []string
	for d := range m.tree.dirs {
		if d != dir && path.Dir(d) == dir {
			lines = append(lines, fmt.Sprintf("drwxr-xr-x    2 0        0             4096 Jan  1 00:00 %s", path.Base(d)))
		}
	}
	for f, b := range m.tree.files {
		if path.Dir(f) == dir {
			lines = append(lines, fmt.Sprintf("-rw-r--r--    1 0        0         %8d Jan  1 00:00 %s", len(b), path.Base(f)))
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lastField(lines[i]) < lastField(lines[j]) })
	return strings.Join(lines, "\r\n") + "\r\n", nil
}

func lastField(line string) string {
	f := strings.Fields(line)
	return f[len(f)-1]
}

func (m *Mem) Get(ctx context.Context, remote, local string, resume bool, progress transport.ProgressFunc) error {
	if err := m.IsCanceled(); err != nil {
		return err
	}
	m.enter()
	defer m.leave()
	if m.Started != nil {
		m.Started <- clean(remote)
	}
	if err := m.record("get", remote); err != nil {
		return err
	}
	content, ok := m.File(remote)
	if !ok {
		return fmt.Errorf("get %s: %w", remote, os.ErrNotExist)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	var offset int64
	if resume {
		if fi, err := os.Stat(local); err == nil {
			offset = fi.Size()
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
	}
	if offset > int64(len(content)) {
		offset = int64(len(content))
	}
	f, err := os.OpenFile(local, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	pw := &transport.ProgressWriter{Done: offset, Total: int64(len(content)), Progress: progress}
	return m.stream(ctx, clean(remote), bytes.NewReader(content[offset:]), io.MultiWriter(f, pw), pw)
}

func (m *Mem) GetBuffer(ctx context.Context, remote string, progress transport.ProgressFunc) ([]byte, error) {
	if err := m.IsCanceled(); err != nil {
		return nil, err
	}
	if err := m.record("get", remote); err != nil {
		return nil, err
	}
	content, ok := m.File(remote)
	if !ok {
		return nil, fmt.Errorf("get %s: %w", remote, os.ErrNotExist)
	}
	if progress != nil {
		progress(100)
	}
	return content, nil
}

func (m *Mem) Put(ctx context.Context, local, remote string, resume bool, progress transport.ProgressFunc) error {
	if err := m.IsCanceled(); err != nil {
		return err
	}
	if err := m.record("put", remote); err != nil {
		return err
	}
	content, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	var existing []byte
	if resume {
		existing, _ = m.File(remote)
		if len(existing) > len(content) {
			existing = nil
		}
	}
	var buf bytes.Buffer
	buf.Write(existing)
	pw := &transport.ProgressWriter{Done: int64(len(existing)), Total: int64(len(content)), Progress: progress}
	if err := m.stream(ctx, clean(remote), bytes.NewReader(content[len(existing):]), io.MultiWriter(&buf, pw), pw); err != nil {
		return err
	}
	m.AddFile(remote, buf.Bytes())
	return nil
}

func (m *Mem) stream(ctx context.Context, remote string, r io.Reader, w io.Writer, pw *transport.ProgressWriter) error {
	chunk := make([]byte, m.ChunkSize)
	first := true
	for {
		if err := m.IsCanceled(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			if _, err := w.Write(chunk[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			pw.Finish()
			return nil
		}
		if rerr != nil {
			return rerr
		}
		if first && m.Hold != nil {
			first = false
			if m.Held != nil {
				m.Held <- remote
			}
			select {
			case <-m.Hold:
			case <-m.canceledCh():
				return transport.ErrCanceled
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (m *Mem) Delete(ctx context.Context, remote string) error {
	if err := m.IsCanceled(); err != nil {
		return err
	}
	if err := m.record("delete", remote); err != nil {
		return err
	}
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	p := clean(remote)
	if _, ok := m.tree.files[p]; !ok {
		return fmt.Errorf("delete %s: %w", remote, os.ErrNotExist)
	}
	delete(m.tree.files, p)
	return nil
}

func (m *Mem) Rename(ctx context.Context, from, to string) error {
	if err := m.IsCanceled(); err != nil {
		return err
	}
	if err := m.record("rename", from); err != nil {
		return err
	}
	m.tree.mu.Lock()
	defer m.tree.mu.Unlock()
	src, dst := clean(from), clean(to)
	b, ok := m.tree.files[src]
	if !ok {
		return fmt.Errorf("rename %s: %w", from, os.ErrNotExist)
	}
	delete(m.tree.files, src)
	m.tree.files[dst] = b
	return nil
}

func (m *Mem) Size(ctx context.Context, remote string) (int64, error) {
	if err := m.IsCanceled(); err != nil {
		return 0, err
	}
	if err := m.record("size", remote); err != nil {
		return 0, err
	}
	b, ok := m.File(remote)
	if !ok {
		return 0, fmt.Errorf("size %s: %w", remote, os.ErrNotExist)
	}
	return int64(len(b)), nil
}

func (m *Mem) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.canceled {
		m.canceled = true
		close(m.cancelCh)
	}
	return nil
}

func (m *Mem) IsCanceled() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.canceled {
		return transport.ErrCanceled
	}
	return nil
}

func (m *Mem) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.canceled {
		m.canceled = false
		m.cancelCh = make(chan struct{})
	}
	return nil
}

func (m *Mem) canceledCh() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCh
}

func (m *Mem) enter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight++
	if m.inflight > m.maxInflight {
		m.maxInflight = m.inflight
	}
}

func (m *Mem) leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
}
