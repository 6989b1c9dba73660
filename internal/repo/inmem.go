package repo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tinoosan/devsync/internal/data"
	"github.com/tinoosan/devsync/internal/fp"
)

type InMemoryTransferRepo struct {
	mu        sync.RWMutex
	transfers data.TransferRecords
	now       func() time.Time
}

func NewInMemoryTransferRepo() *InMemoryTransferRepo {
	return &InMemoryTransferRepo{
		transfers: make(data.TransferRecords, 0),
		now:       time.Now,
	}
}

func (r *InMemoryTransferRepo) List(ctx context.Context) (data.TransferRecords, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transfers.Clone(), nil
}

func (r *InMemoryTransferRepo) Get(ctx context.Context, id string) (*data.TransferRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (r *InMemoryTransferRepo) Latest(ctx context.Context, fingerprint string) (*data.TransferRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.transfers) - 1; i >= 0; i-- {
		if r.transfers[i].Fingerprint == fingerprint {
			return r.transfers[i].Clone(), nil
		}
	}
	return nil, data.ErrNotFound
}

func (r *InMemoryTransferRepo) Add(ctx context.Context, t *data.TransferRecord) (*data.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := t.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if _, err := r.findByID(cp.ID); err == nil {
		return nil, fmt.Errorf("%w: duplicate transfer id %s", data.ErrBadParameter, cp.ID)
	}
	if cp.Fingerprint == "" {
		cp.Fingerprint = fp.Fingerprint(cp.Product, cp.Name, cp.Size)
	}
	now := r.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	r.transfers = append(r.transfers, cp)
	return cp.Clone(), nil
}

func (r *InMemoryTransferRepo) Update(ctx context.Context, id string, mutate func(*data.TransferRecord) error) (*data.TransferRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	// identity is immutable
	next.ID, next.CreatedAt, next.Fingerprint = cur.ID, cur.CreatedAt, cur.Fingerprint
	next.UpdatedAt = r.now()
	*cur = *next
	return cur.Clone(), nil
}

func (r *InMemoryTransferRepo) findByID(id string) (*data.TransferRecord, error) {
	for _, t := range r.transfers {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, data.ErrNotFound
}
