// Package cache persists the last authoritative server snapshot so list
// screens render offline. It is a plain replace-on-pull cache: the sync
// orchestrator overwrites each collection wholesale and readers get
// whatever the last successful pull delivered.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/models"
	"github.com/dmitrijs2005/fieldsync/internal/storage"
)

// Cache reads and writes the per-collection snapshots.
type Cache struct {
	store storage.Store
}

// New returns a cache over the given store.
func New(store storage.Store) *Cache {
	return &Cache{store: store}
}

func collectionKey(kind models.ResourceKind) string {
	return storage.PrefixCache + string(kind) + "s"
}

// ReplaceAll overwrites the cached collections with the pulled snapshot.
func (c *Cache) ReplaceAll(ctx context.Context, resp *models.PullResponse) error {
	collections := map[models.ResourceKind][]map[string]any{
		models.KindProject: resp.Projects,
		models.KindReport:  resp.Reports,
		models.KindVisit:   resp.Visits,
	}
	for kind, items := range collections {
		if err := c.put(ctx, kind, items); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) put(ctx context.Context, kind models.ResourceKind, items []map[string]any) error {
	if items == nil {
		items = []map[string]any{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding %s cache: %w", kind, err)
	}
	return c.store.Put(ctx, collectionKey(kind), raw)
}

// List returns the cached collection for kind. An empty cache yields an
// empty slice, not an error.
func (c *Cache) List(ctx context.Context, kind models.ResourceKind) ([]map[string]any, error) {
	raw, err := c.store.Get(ctx, collectionKey(kind))
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decoding %s cache: %w", kind, err)
	}
	return items, nil
}

// Find returns the cached item with the given id, or common.ErrNotFound.
func (c *Cache) Find(ctx context.Context, kind models.ResourceKind, id string) (map[string]any, error) {
	items, err := c.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if itemID, _ := item["id"].(string); itemID == id {
			return item, nil
		}
	}
	return nil, common.ErrNotFound
}
