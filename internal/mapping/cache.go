// Package mapping implements the hot severity/category/trap-OID
// mapping cache: a read-mostly, atomically swapped snapshot refreshed
// with a singleflight-coalesced query, so concurrent normalizers never
// block each other and a refresh storm collapses to one query.
package mapping

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/opsconductor/opsconductor/internal/models"
	"golang.org/x/sync/singleflight"
)

// Loader is satisfied by internal/store.Store.
type Loader interface {
	LoadSeverityMappings(ctx context.Context) ([]models.MappingRow, error)
	LoadCategoryMappings(ctx context.Context) ([]models.MappingRow, error)
	LoadTrapMappings(ctx context.Context) ([]models.MappingRow, error)
}

type snapshot struct {
	severity map[string]models.MappingRow // key: connector_type|source_field|source_value
	category map[string]models.MappingRow
	trap     map[string]models.MappingRow // key: trap_oid
	loadedAt time.Time
}

// Cache holds the current snapshot behind an atomic.Pointer so reads
// never take a lock.
type Cache struct {
	loader Loader
	snap   atomic.Pointer[snapshot]
	group  singleflight.Group
}

func New(loader Loader) *Cache {
	c := &Cache{loader: loader}
	c.snap.Store(&snapshot{
		severity: map[string]models.MappingRow{},
		category: map[string]models.MappingRow{},
		trap:     map[string]models.MappingRow{},
	})
	return c
}

func severityKey(connectorType, sourceField, sourceValue string) string {
	return connectorType + "|" + sourceField + "|" + sourceValue
}

// Refresh reloads all three mapping tables and atomically installs the
// new snapshot. Concurrent callers share one in-flight load.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("refresh", func() (any, error) {
		sevRows, err := c.loader.LoadSeverityMappings(ctx)
		if err != nil {
			return nil, err
		}
		catRows, err := c.loader.LoadCategoryMappings(ctx)
		if err != nil {
			return nil, err
		}
		trapRows, err := c.loader.LoadTrapMappings(ctx)
		if err != nil {
			return nil, err
		}

		next := &snapshot{
			severity: make(map[string]models.MappingRow, len(sevRows)),
			category: make(map[string]models.MappingRow, len(catRows)),
			trap:     make(map[string]models.MappingRow, len(trapRows)),
			loadedAt: time.Now().UTC(),
		}
		// Rows are ordered by priority DESC; first write per key wins,
		// so iterate forward and skip keys already set.
		for _, r := range sevRows {
			k := severityKey(r.ConnectorType, r.SourceField, r.SourceValue)
			if _, ok := next.severity[k]; !ok {
				next.severity[k] = r
			}
		}
		for _, r := range catRows {
			k := severityKey(r.ConnectorType, r.SourceField, r.SourceValue)
			if _, ok := next.category[k]; !ok {
				next.category[k] = r
			}
		}
		for _, r := range trapRows {
			if _, ok := next.trap[r.TrapOID]; !ok {
				next.trap[r.TrapOID] = r
			}
		}
		c.snap.Store(next)
		return nil, nil
	})
	return err
}

// Severity looks up (connector_type, source_field, source_value) →
// target severity. ok is false on a cache miss.
func (c *Cache) Severity(connectorType, sourceField, sourceValue string) (models.Severity, bool) {
	s := c.snap.Load()
	row, ok := s.severity[severityKey(connectorType, sourceField, sourceValue)]
	if !ok {
		return "", false
	}
	return row.TargetSeverity, true
}

func (c *Cache) Category(connectorType, sourceField, sourceValue string) (models.Category, bool) {
	s := c.snap.Load()
	row, ok := s.category[severityKey(connectorType, sourceField, sourceValue)]
	if !ok {
		return "", false
	}
	return row.TargetCategory, true
}

// Trap looks up a trap OID. ok is false when no trap-specific mapping
// row exists.
func (c *Cache) Trap(trapOID string) (models.MappingRow, bool) {
	s := c.snap.Load()
	row, ok := s.trap[trapOID]
	return row, ok
}

// TrapEnabled reports whether a trap OID is opted in by any mapping
// row: a trap with neither a trap-specific mapping nor a severity
// mapping is dropped.
func (c *Cache) TrapEnabled(trapOID string) bool {
	s := c.snap.Load()
	if _, ok := s.trap[trapOID]; ok {
		return true
	}
	_, ok := s.severity[severityKey("snmp_trap", "trap_oid", trapOID)]
	return ok
}

func (c *Cache) LoadedAt() time.Time {
	return c.snap.Load().loadedAt
}
