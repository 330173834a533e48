// Package memory provides an in-process RemoteCatalog that records every
// write it receives.
package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/agentstation/catsync/pkg/entity"
	"github.com/agentstation/catsync/pkg/errors"
)

// Op names a catalog operation.
type Op string

// Catalog operations.
const (
	OpFetch  Op = "fetch"
	OpCreate Op = "create"
	OpUpdate Op = "update"
)

// Call is a single recorded write.
type Call struct {
	Op         Op
	CatalogID  string
	ExternalID string
	Values     []string
}

// FaultFunc returns a non-nil error to make an operation fail. The key is the
// external ID for updates and the display name for creates.
type FaultFunc func(op Op, catalogID, key string) error

// Catalog is an in-memory entity.RemoteCatalog.
type Catalog struct {
	mu     sync.Mutex
	rows   map[string][]entity.RemoteRecord
	nextID int
	calls  []Call
	fault  FaultFunc
}

var _ entity.RemoteCatalog = (*Catalog)(nil)

// New creates an empty catalog service.
func New() *Catalog {
	return &Catalog{
		rows:   make(map[string][]entity.RemoteRecord),
		nextID: 1,
	}
}

// Seed appends rows to a catalog without recording writes.
func (c *Catalog) Seed(catalogID string, rows ...entity.RemoteRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, row := range rows {
		if n, err := strconv.Atoi(row.ExternalID); err == nil && n >= c.nextID {
			c.nextID = n + 1
		}
		c.rows[catalogID] = append(c.rows[catalogID], row.Clone())
	}
}

// SetFault installs a fault injector. Pass nil to clear it.
func (c *Catalog) SetFault(fn FaultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = fn
}

// Rows returns a copy of a catalog's rows in order.
func (c *Catalog) Rows(catalogID string) []entity.RemoteRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRows(c.rows[catalogID])
}

// Calls returns the recorded writes in order.
func (c *Catalog) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Writes returns the number of recorded writes.
func (c *Catalog) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Rename changes a row's display name without recording a write, the way a
// user editing the catalog directly would.
func (c *Catalog) Rename(catalogID, externalID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, err := c.find(catalogID, externalID)
	if err != nil {
		return err
	}
	row.Values = row.WithName(name)
	return nil
}

// Delete marks a row deleted without recording a write.
func (c *Catalog) Delete(catalogID, externalID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, err := c.find(catalogID, externalID)
	if err != nil {
		return err
	}
	row.Deleted = true
	return nil
}

// FetchSnapshot implements entity.RemoteCatalog.
func (c *Catalog) FetchSnapshot(ctx context.Context, catalogID string) ([]entity.RemoteRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.inject(OpFetch, catalogID, ""); err != nil {
		return nil, err
	}
	return cloneRows(c.rows[catalogID]), nil
}

// CreateItem implements entity.RemoteCatalog.
func (c *Catalog) CreateItem(ctx context.Context, catalogID string, values []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	row := entity.RemoteRecord{Values: append([]string(nil), values...)}
	if err := c.inject(OpCreate, catalogID, row.Name()); err != nil {
		return "", err
	}

	row.ExternalID = strconv.Itoa(c.nextID)
	c.nextID++
	c.rows[catalogID] = append(c.rows[catalogID], row)
	c.calls = append(c.calls, Call{Op: OpCreate, CatalogID: catalogID, ExternalID: row.ExternalID, Values: row.Clone().Values})
	return row.ExternalID, nil
}

// UpdateItem implements entity.RemoteCatalog.
func (c *Catalog) UpdateItem(ctx context.Context, catalogID, externalID string, values []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	row, err := c.find(catalogID, externalID)
	if err != nil {
		return err
	}
	if row.Deleted {
		return errors.NewNotFoundError("catalog item", externalID)
	}
	if err := c.inject(OpUpdate, catalogID, externalID); err != nil {
		return err
	}

	row.Values = append([]string(nil), values...)
	c.calls = append(c.calls, Call{Op: OpUpdate, CatalogID: catalogID, ExternalID: externalID, Values: append([]string(nil), values...)})
	return nil
}

func (c *Catalog) find(catalogID, externalID string) (*entity.RemoteRecord, error) {
	rows := c.rows[catalogID]
	for i := range rows {
		if rows[i].ExternalID == externalID {
			return &rows[i], nil
		}
	}
	return nil, errors.NewNotFoundError("catalog item", externalID)
}

func (c *Catalog) inject(op Op, catalogID, key string) error {
	if c.fault == nil {
		return nil
	}
	return c.fault(op, catalogID, key)
}

func cloneRows(rows []entity.RemoteRecord) []entity.RemoteRecord {
	out := make([]entity.RemoteRecord, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
