package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/fp"
	"github.com/tinoosan/devsync/internal/manager"
	"github.com/tinoosan/devsync/internal/repo"
)

// Media is what the HTTP API needs from the sync engine.
type Media interface {
	Catalog(ctx context.Context) ([]CatalogEntry, error)
	Refresh(ctx context.Context, withThumbnail bool) ([]CatalogEntry, error)
	DeleteMedia(ctx context.Context, product, name string) error
	Enqueue(ctx context.Context, product, name string) (string, error)
	Queue(ctx context.Context) (QueueState, error)
	CancelQueue(ctx context.Context) error
	Transfers(ctx context.Context) (data.TransferRecords, error)
	Transfer(ctx context.Context, id string) (*data.TransferRecord, error)
	DataFiles(ctx context.Context) (int, error)
}

// CatalogEntry is a catalog record with the latest recorded attempt at
// downloading it, if any.
type CatalogEntry struct {
	data.MediaRecord
	Transfer *data.TransferRecord `json:"transfer,omitempty"`
}

type QueueState struct {
	Pending int  `json:"pending"`
	Running bool `json:"running"`
}

type media struct {
	mgr  *manager.Manager
	repo repo.TransferReader
}

func NewMedia(mgr *manager.Manager, repo repo.TransferReader) Media {
	return &media{mgr: mgr, repo: repo}
}

func (s *media) Catalog(ctx context.Context) ([]CatalogEntry, error) {
	md, err := s.mgr.Media()
	if err != nil {
		return nil, err
	}
	return s.entries(ctx, md.Catalog())
}

// Refresh drops the current catalog and lists the device again.
func (s *media) Refresh(ctx context.Context, withThumbnail bool) ([]CatalogEntry, error) {
	md, err := s.mgr.Media()
	if err != nil {
		return nil, err
	}
	md.FreeCatalog()
	recs, err := md.ListAvailableSync(ctx, withThumbnail)
	if err != nil {
		return nil, err
	}
	return s.entries(ctx, recs)
}

func (s *media) entries(ctx context.Context, recs []data.MediaRecord) ([]CatalogEntry, error) {
	out := make([]CatalogEntry, 0, len(recs))
	for _, r := range recs {
		e := CatalogEntry{MediaRecord: r}
		if s.repo != nil {
			t, err := s.repo.Latest(ctx, fp.Fingerprint(r.Product.PathName(), r.Name, r.Size))
			switch {
			case err == nil:
				e.Transfer = t
			case !errors.Is(err, data.ErrNotFound):
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *media) DeleteMedia(ctx context.Context, product, name string) error {
	p, err := parseProduct(product)
	if err != nil {
		return err
	}
	md, err := s.mgr.Media()
	if err != nil {
		return err
	}
	return md.DeleteRecord(ctx, p.ID, name)
}

func (s *media) Enqueue(ctx context.Context, product, name string) (string, error) {
	p, err := parseProduct(product)
	if err != nil {
		return "", err
	}
	md, err := s.mgr.Media()
	if err != nil {
		return "", err
	}
	rec, err := md.Record(p.ID, name)
	if err != nil {
		return "", err
	}
	return md.Enqueue(rec, nil)
}

func (s *media) Queue(ctx context.Context) (QueueState, error) {
	md, err := s.mgr.Media()
	if err != nil {
		return QueueState{}, err
	}
	return QueueState{Pending: md.Pending(), Running: md.Running()}, nil
}

func (s *media) CancelQueue(ctx context.Context) error {
	md, err := s.mgr.Media()
	if err != nil {
		return err
	}
	return md.CancelQueueLoop()
}

func (s *media) Transfers(ctx context.Context) (data.TransferRecords, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: no transfer history", data.ErrNotInitialized)
	}
	return s.repo.List(ctx)
}

func (s *media) Transfer(ctx context.Context, id string) (*data.TransferRecord, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("%w: no transfer history", data.ErrNotInitialized)
	}
	return s.repo.Get(ctx, id)
}

func (s *media) DataFiles(ctx context.Context) (int, error) {
	dd, err := s.mgr.Data()
	if err != nil {
		return 0, err
	}
	return dd.AvailableFiles(ctx)
}

func parseProduct(s string) (data.Product, error) {
	p, ok := data.ProductByPathName(fp.NormalizeProduct(s))
	if !ok {
		return data.Product{}, fmt.Errorf("%w: unknown product %q", data.ErrBadParameter, s)
	}
	return p, nil
}
