// Package ftp adapts github.com/jlaffaye/ftp to transport.Transport.
package ftp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/tinoosan/devsync/internal/transport"
)

// Config describes one device endpoint.
type Config struct {
	Addr        string
	User        string
	Password    string
	DialTimeout time.Duration
}

// Client is a single FTP connection handle. Calls on one Client are
// serialized; Cancel is the only method meant to race them.
type Client struct {
	cfg Config
	log *slog.Logger

	opMu sync.Mutex // serializes protocol calls
	conn *ftp.ServerConn

	mu       sync.Mutex
	canceled bool
	sockets  map[net.Conn]struct{}
}

var _ transport.Transport = (*Client)(nil)

// New returns an unconnected handle.
func New(log *slog.Logger, cfg Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	if cfg.User == "" {
		cfg.User = "anonymous"
		cfg.Password = "anonymous"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg, log: log.With("addr", cfg.Addr), sockets: map[net.Conn]struct{}{}}
}

// dial records every socket the library opens, control and data alike, so
// that Cancel can close them.
func (c *Client) dial(network, address string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.Dial(network, address)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		conn.Close()
		return nil, transport.ErrCanceled
	}
	c.sockets[conn] = struct{}{}
	return &trackedConn{Conn: conn, c: c}, nil
}

type trackedConn struct {
	net.Conn
	c    *Client
	once sync.Once
}

func (t *trackedConn) Close() error {
	t.once.Do(func() {
		t.c.mu.Lock()
		delete(t.c.sockets, t.Conn)
		t.c.mu.Unlock()
	})
	return t.Conn.Close()
}

func (c *Client) Connect(ctx context.Context) error {
	if err := c.IsCanceled(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := ftp.Dial(c.cfg.Addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(c.cfg.DialTimeout),
		ftp.DialWithDialFunc(c.dial),
	)
	if err != nil {
		return c.wrap("dial", err)
	}
	if err := conn.Login(c.cfg.User, c.cfg.Password); err != nil {
		_ = conn.Quit()
		return c.wrap("login", err)
	}
	c.conn = conn
	c.log.Debug("ftp connected")
	return nil
}

func (c *Client) Disconnect() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	return err
}

func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Disconnect()
	return c.Connect(ctx)
}

// session runs fn with a live connection, connecting lazily.
func (c *Client) session(ctx context.Context, op string, fn func(*ftp.ServerConn) error) error {
	if err := c.IsCanceled(); err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.conn == nil {
		return transport.ErrNotConnected
	}
	stop := context.AfterFunc(ctx, func() { c.closeSockets() })
	defer stop()
	if err := fn(c.conn); err != nil {
		if c.IsCanceled() != nil || ctx.Err() != nil {
			// the control connection is gone after an abort
			_ = c.closeLocked()
			if ctx.Err() != nil && c.IsCanceled() == nil {
				return ctx.Err()
			}
			return transport.ErrCanceled
		}
		return c.wrap(op, err)
	}
	return nil
}

func (c *Client) wrap(op string, err error) error {
	if errors.Is(err, transport.ErrCanceled) {
		return err
	}
	return fmt.Errorf("ftp %s: %w", op, err)
}

// List renders the directory as unix "ls -l" lines.
func (c *Client) List(ctx context.Context, dir string) (string, error) {
	var b strings.Builder
	err := c.session(ctx, "list", func(conn *ftp.ServerConn) error {
		entries, err := conn.List(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			b.WriteString(formatEntry(e))
			b.WriteString("\r\n")
		}
		return nil
	})
	return b.String(), err
}

func formatEntry(e *ftp.Entry) string {
	mode := "-rw-r--r--"
	switch e.Type {
	case ftp.EntryTypeFolder:
		mode = "drwxr-xr-x"
	case ftp.EntryTypeLink:
		mode = "lrwxrwxrwx"
	}
	name := e.Name
	if e.Type == ftp.EntryTypeLink && e.Target != "" {
		name = e.Name + " -> " + e.Target
	}
	return fmt.Sprintf("%s    1 0        0     %12d %s %s", mode, e.Size, e.Time.Format("Jan _2 15:04"), name)
}

func (c *Client) Get(ctx context.Context, remote, local string, resume bool, progress transport.ProgressFunc) error {
	return c.session(ctx, "get", func(conn *ftp.ServerConn) error {
		total, err := conn.FileSize(remote)
		if err != nil {
			return err
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		var offset int64
		if resume {
			if fi, err := os.Stat(local); err == nil && fi.Size() <= total {
				offset = fi.Size()
				flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			}
		}
		f, err := os.OpenFile(local, flags, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		pw := &transport.ProgressWriter{Done: offset, Total: total, Progress: progress}
		if offset == total {
			pw.Finish()
			return nil
		}
		r, err := conn.RetrFrom(remote, uint64(offset))
		if err != nil {
			return err
		}
		if _, err := io.Copy(io.MultiWriter(f, pw), r); err != nil {
			r.Close()
			return err
		}
		if err := r.Close(); err != nil {
			return err
		}
		pw.Finish()
		return nil
	})
}

func (c *Client) GetBuffer(ctx context.Context, remote string, progress transport.ProgressFunc) ([]byte, error) {
	var buf bytes.Buffer
	err := c.session(ctx, "get", func(conn *ftp.ServerConn) error {
		total, err := conn.FileSize(remote)
		if err != nil {
			return err
		}
		r, err := conn.Retr(remote)
		if err != nil {
			return err
		}
		pw := &transport.ProgressWriter{Total: total, Progress: progress}
		if _, err := io.Copy(io.MultiWriter(&buf, pw), r); err != nil {
			r.Close()
			return err
		}
		if err := r.Close(); err != nil {
			return err
		}
		pw.Finish()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Client) Put(ctx context.Context, local, remote string, resume bool, progress transport.ProgressFunc) error {
	return c.session(ctx, "put", func(conn *ftp.ServerConn) error {
		f, err := os.Open(local)
		if err != nil {
			return err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		var offset int64
		if resume {
			if n, err := conn.FileSize(remote); err == nil && n <= fi.Size() {
				offset = n
			}
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		pw := &transport.ProgressWriter{Done: offset, Total: fi.Size(), Progress: progress}
		r := io.TeeReader(f, pw)
		if offset > 0 {
			err = conn.StorFrom(remote, r, uint64(offset))
		} else {
			err = conn.Stor(remote, r)
		}
		if err != nil {
			return err
		}
		pw.Finish()
		return nil
	})
}

func (c *Client) Delete(ctx context.Context, remote string) error {
	return c.session(ctx, "delete", func(conn *ftp.ServerConn) error { return conn.Delete(remote) })
}

func (c *Client) Rename(ctx context.Context, from, to string) error {
	return c.session(ctx, "rename", func(conn *ftp.ServerConn) error { return conn.Rename(from, to) })
}

func (c *Client) Size(ctx context.Context, remote string) (int64, error) {
	var n int64
	err := c.session(ctx, "size", func(conn *ftp.ServerConn) error {
		var err error
		n, err = conn.FileSize(remote)
		return err
	})
	return n, err
}

// Cancel latches the handle and closes every open socket, which unblocks
// the call in flight.
func (c *Client) Cancel() error {
	c.mu.Lock()
	c.canceled = true
	c.mu.Unlock()
	c.closeSockets()
	return nil
}

func (c *Client) closeSockets() {
	c.mu.Lock()
	socks := make([]net.Conn, 0, len(c.sockets))
	for s := range c.sockets {
		socks = append(socks, s)
	}
	c.sockets = map[net.Conn]struct{}{}
	c.mu.Unlock()
	for _, s := range socks {
		_ = s.Close()
	}
}

func (c *Client) IsCanceled() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canceled {
		return transport.ErrCanceled
	}
	return nil
}

// Reset clears the latch. A connection broken by Cancel is dropped so the
// next call dials again.
func (c *Client) Reset() error {
	c.mu.Lock()
	was := c.canceled
	c.canceled = false
	c.mu.Unlock()
	if was {
		c.opMu.Lock()
		c.conn = nil
		c.opMu.Unlock()
	}
	return nil
}
