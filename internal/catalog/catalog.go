// Package catalog holds the records of the media available on a device and
// the lister that builds them.
package catalog

import (
	"sync"

	"github.com/tinoosan/devsync/internal/data"
)

// Catalog is the published result of the last successful listing. All
// accessors hand out copies.
type Catalog struct {
	mu      sync.RWMutex
	records []*data.MediaRecord
}

func New() *Catalog { return &Catalog{} }

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Snapshot returns deep copies of every record in listing order.
func (c *Catalog) Snapshot() []data.MediaRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]data.MediaRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, *r.Clone())
	}
	return out
}

// Get returns a copy of the record for product/name.
func (c *Catalog) Get(product int, name string) (data.MediaRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.records {
		if r.Product.ID == product && r.Name == name {
			return *r.Clone(), true
		}
	}
	return data.MediaRecord{}, false
}

// Install publishes records. It fails with ErrBadParameter unless the
// catalog is empty.
func (c *Catalog) Install(records []*data.MediaRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) != 0 {
		return data.ErrBadParameter
	}
	c.records = make([]*data.MediaRecord, 0, len(records))
	for _, r := range records {
		c.records = append(c.records, r.Clone())
	}
	return nil
}

// Remove drops the record for product/name and reports whether it existed.
func (c *Catalog) Remove(product int, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.records {
		if r.Product.ID == product && r.Name == name {
			c.records = append(c.records[:i], c.records[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the catalog so a new listing can be installed.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
}
