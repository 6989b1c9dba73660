package repo

import (
	"context"

	"github.com/tinoosan/devsync/internal/data"
)

type TransferRepo interface {
	TransferReader
	TransferWriter
}

type TransferReader interface {
	List(ctx context.Context) (data.TransferRecords, error)
	Get(ctx context.Context, id string) (*data.TransferRecord, error)
	// Latest returns the most recently created record with fingerprint.
	Latest(ctx context.Context, fingerprint string) (*data.TransferRecord, error)
}

type TransferWriter interface {
	// Add stores a new record. The caller chooses the id; an empty id is
	// replaced by a fresh uuid.
	Add(ctx context.Context, rec *data.TransferRecord) (*data.TransferRecord, error)
	// Update applies mutate to the stored record and saves the result.
	Update(ctx context.Context, id string, mutate func(*data.TransferRecord) error) (*data.TransferRecord, error)
}
