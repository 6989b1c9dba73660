package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/listing"
	"github.com/tinoosan/devsync/internal/transfer"
	"github.com/tinoosan/devsync/internal/transport"
)

// Lister enumerates the media of every known product under Root. It lists
// and fetches thumbnails on List and deletes on Del, so a long delete never
// waits behind a listing.
type Lister struct {
	List     transport.Transport
	Del      transport.Transport
	Root     string
	LocalDir string
	Catalog  *Catalog
	log      *slog.Logger
}

// NewLister wires a Lister. log may be nil.
func NewLister(log *slog.Logger, list, del transport.Transport, root, localDir string, cat *Catalog) *Lister {
	if log == nil {
		log = slog.Default()
	}
	if cat == nil {
		cat = New()
	}
	return &Lister{List: list, Del: del, Root: root, LocalDir: localDir, Catalog: cat, log: log}
}

// ListAvailable builds the catalog and returns copies of its records.
// Thumbnails are fetched when withThumbnail is set.
func (l *Lister) ListAvailable(ctx context.Context, withThumbnail bool) ([]data.MediaRecord, error) {
	recs, err := l.build(ctx, withThumbnail, nil)
	if err != nil {
		return nil, err
	}
	out := make([]data.MediaRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r.Clone())
	}
	return out, nil
}

// ListAvailableAsync builds the catalog, calling onEach with a copy of
// every record as soon as it is known, thumbnail included.
func (l *Lister) ListAvailableAsync(ctx context.Context, onEach func(data.MediaRecord)) error {
	if onEach == nil {
		return data.ErrBadParameter
	}
	_, err := l.build(ctx, true, onEach)
	return err
}

// Cancel interrupts a listing in progress.
func (l *Lister) Cancel() error {
	if l.List == nil {
		return data.ErrNotInitialized
	}
	return l.List.Cancel()
}

func (l *Lister) build(ctx context.Context, withThumbnail bool, onEach func(data.MediaRecord)) ([]*data.MediaRecord, error) {
	if l.List == nil || l.Catalog == nil {
		return nil, data.ErrNotInitialized
	}
	if l.Catalog.Len() != 0 {
		return nil, fmt.Errorf("%w: catalog not empty", data.ErrBadParameter)
	}
	recs, err := l.walk(ctx, withThumbnail, onEach)
	if err != nil {
		if errors.Is(err, data.ErrCanceled) {
			_ = l.List.Reset()
		}
		l.log.Warn("listing failed", "root", l.Root, "err", err)
		return nil, err
	}
	if err := l.Catalog.Install(recs); err != nil {
		return nil, err
	}
	l.log.Info("listing complete", "root", l.Root, "count", len(recs))
	return recs, nil
}

func (l *Lister) walk(ctx context.Context, withThumbnail bool, onEach func(data.MediaRecord)) ([]*data.MediaRecord, error) {
	raw, err := l.List.List(ctx, path.Join("/", l.Root))
	if err != nil {
		return nil, transfer.Classify("list root", err)
	}
	var recs []*data.MediaRecord
	for _, p := range data.Products {
		if err := l.canceled(ctx); err != nil {
			return nil, err
		}
		if _, ok := listing.Lookup(raw, p.PathName(), true); !ok {
			continue
		}
		dir := data.MediaRemoteDir(l.Root, p)
		mediaRaw, err := l.List.List(ctx, dir)
		if err != nil {
			if errors.Is(err, transport.ErrCanceled) {
				return nil, transfer.Classify("list "+dir, err)
			}
			// a product without a readable media directory has no media
			l.log.Debug("skip product", "dir", dir, "err", err)
			continue
		}
		for _, e := range listing.Parse(mediaRaw) {
			if err := l.canceled(ctx); err != nil {
				return nil, err
			}
			if !e.IsFile() {
				continue
			}
			rec := data.NewMediaRecord(p, e.Name, l.LocalDir, e.Size)
			if withThumbnail {
				l.attachThumbnail(ctx, rec)
			}
			recs = append(recs, rec)
			if onEach != nil {
				onEach(*rec.Clone())
			}
		}
	}
	if err := l.canceled(ctx); err != nil {
		return nil, err
	}
	return recs, nil
}

func (l *Lister) attachThumbnail(ctx context.Context, rec *data.MediaRecord) {
	b, err := l.List.GetBuffer(ctx, rec.ThumbnailRemotePath(l.Root), nil)
	if err != nil {
		l.log.Debug("thumbnail", "name", rec.Name, "err", err)
		return
	}
	rec.Thumbnail = b
}

func (l *Lister) canceled(ctx context.Context) error {
	if err := l.List.IsCanceled(); err != nil {
		return transfer.Classify("listing", err)
	}
	if err := ctx.Err(); err != nil {
		return transfer.Classify("listing", err)
	}
	return nil
}

// DeleteMedia removes the media file from the device, then its thumbnail
// on a best effort basis, then the catalog entry.
func (l *Lister) DeleteMedia(ctx context.Context, rec data.MediaRecord) error {
	if l.Del == nil {
		return data.ErrNotInitialized
	}
	if rec.Name == "" {
		return data.ErrBadParameter
	}
	if err := l.Del.Delete(ctx, rec.RemotePath(l.Root)); err != nil {
		if errors.Is(err, transport.ErrCanceled) {
			_ = l.Del.Reset()
		}
		return transfer.Classify("delete "+rec.Name, err)
	}
	if err := l.Del.Delete(ctx, rec.ThumbnailRemotePath(l.Root)); err != nil {
		l.log.Debug("thumbnail delete", "name", rec.Name, "err", err)
	}
	l.Catalog.Remove(rec.Product.ID, rec.Name)
	l.log.Info("media deleted", "product", rec.Product.PathName(), "name", rec.Name)
	return nil
}
