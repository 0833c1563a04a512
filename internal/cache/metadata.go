package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/desertthunder/hymnal/internal/models"
	"github.com/desertthunder/hymnal/internal/shared"
)

// Metadata loads the sync metadata record, creating it on first use.
func (c *CollectionCache) Metadata(ctx context.Context) (models.SyncMetadata, error) {
	raw, err := c.kv.Get(ctx, KeyMetadata)
	if errors.Is(err, shared.ErrCacheMiss) {
		md := models.NewSyncMetadata(c.opts.SchemaVersion)
		return md, c.SaveMetadata(ctx, md)
	}
	if err != nil {
		return models.SyncMetadata{}, err
	}

	var md models.SyncMetadata
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		c.logger.Warn("sync metadata unreadable, starting over", "error", err)
		md = models.NewSyncMetadata(c.opts.SchemaVersion)
		return md, c.SaveMetadata(ctx, md)
	}
	if md.CollectionHashes == nil {
		md.CollectionHashes = map[string]string{}
	}
	return md, nil
}

// SaveMetadata persists md.
func (c *CollectionCache) SaveMetadata(ctx context.Context, md models.SyncMetadata) error {
	data, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to encode sync metadata: %w", err)
	}
	return c.kv.Set(ctx, KeyMetadata, string(data))
}

// UpdateMetadata loads the record, applies fn and saves the result.
func (c *CollectionCache) UpdateMetadata(ctx context.Context, fn func(*models.SyncMetadata)) error {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	md, err := c.Metadata(ctx)
	if err != nil {
		return err
	}
	fn(&md)
	return c.SaveMetadata(ctx, md)
}
