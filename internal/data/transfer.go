package data

import (
	"encoding/json"
	"io"
	"time"
)

// TransferKind tells which component produced a history entry.
type TransferKind string

const (
	KindMedia   TransferKind = "media"
	KindData    TransferKind = "data"
	KindOneShot TransferKind = "oneshot"
)

// TransferStatus is the lifecycle state of a recorded transfer.
type TransferStatus string

const (
	StatusQueued    TransferStatus = "Queued"
	StatusActive    TransferStatus = "Active"
	StatusComplete  TransferStatus = "Complete"
	StatusCancelled TransferStatus = "Cancelled"
	StatusError     TransferStatus = "Failed"
)

// Terminal reports whether no further transitions are expected.
func (s TransferStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled || s == StatusError
}

// TransferRecord is a history entry for one transfer attempt.
type TransferRecord struct {
	ID          string         `json:"id"`
	Kind        TransferKind   `json:"kind"`
	Product     string         `json:"product,omitempty"`
	Name        string         `json:"name"`
	Size        float64        `json:"size"`
	Percent     uint8          `json:"percent"`
	Status      TransferStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	Fingerprint string         `json:"-"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type TransferRecords []*TransferRecord

func (t *TransferRecords) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(t) }

func (t *TransferRecord) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(t) }

// Clone returns a copy of the record.
func (t *TransferRecord) Clone() *TransferRecord {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// Clone returns a deep copy of the list.
func (ts TransferRecords) Clone() TransferRecords {
	out := make(TransferRecords, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Clone())
	}
	return out
}
