package database

import (
	"context"

	"github.com/lysyi3m/listing-comb/app/publish"
)

type RunRepository interface {
	InsertRun(ctx context.Context, run Run) (string, error)
	GetLatestRun(ctx context.Context, profile string) (*Run, error)
	ListRuns(ctx context.Context, profile string, limit int) ([]Run, error)
	GetRunCount(ctx context.Context) (int, error)
}

type AssetRepository interface {
	publish.AssetLedger

	UpsertAsset(ctx context.Context, asset Asset) error
	GetAsset(ctx context.Context, kind, name string) (*Asset, error)
	GetAssetCount(ctx context.Context, kind string) (int, error)
}
