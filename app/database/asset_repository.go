package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lysyi3m/listing-comb/app/publish"
)

// PublishedAssetRepository remembers where every published file lives
type PublishedAssetRepository struct {
	db *DB
}

var _ AssetRepository = (*PublishedAssetRepository)(nil)

func NewAssetRepository(db *DB) *PublishedAssetRepository {
	return &PublishedAssetRepository{db: db}
}

func (r *PublishedAssetRepository) UpsertAsset(ctx context.Context, asset Asset) error {
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO published_assets (kind, name, remote_id, url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, name) DO UPDATE SET
			remote_id = excluded.remote_id,
			url = excluded.url,
			updated_at = excluded.updated_at
	`), asset.Kind, asset.Name, asset.RemoteID, asset.URL, asset.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert asset: %w", err)
	}
	return nil
}

// RecordAsset stores an asset reported by the publisher
func (r *PublishedAssetRepository) RecordAsset(ctx context.Context, asset publish.PublishedAsset) error {
	return r.UpsertAsset(ctx, Asset{
		Kind:     asset.Kind,
		Name:     asset.Name,
		RemoteID: asset.RemoteID,
		URL:      asset.URL,
	})
}

func (r *PublishedAssetRepository) GetAsset(ctx context.Context, kind, name string) (*Asset, error) {
	var asset Asset
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT kind, name, remote_id, url, updated_at
		FROM published_assets
		WHERE kind = ? AND name = ?
	`), kind, name).Scan(&asset.Kind, &asset.Name, &asset.RemoteID, &asset.URL, &asset.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return &asset, nil
}

func (r *PublishedAssetRepository) GetAssetCount(ctx context.Context, kind string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`
		SELECT COUNT(*) FROM published_assets WHERE kind = ?
	`), kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count assets: %w", err)
	}
	return count, nil
}
