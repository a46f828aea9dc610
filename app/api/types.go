package api

import (
	"context"

	"github.com/lysyi3m/listing-comb/app/database"
	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/lysyi3m/listing-comb/app/store"
	"github.com/lysyi3m/listing-comb/app/tasks"
)

type GeneratorInterface interface {
	Run(listings []feed.Listing) ([]byte, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)
var _ ContentSource = (*store.Memory)(nil)

// ContentSource serves published assets by remote id. Only assets with a
// public role are served.
type ContentSource interface {
	GetPublicRole(ctx context.Context, id string) (store.Role, error)
	GetFileContent(ctx context.Context, id string) ([]byte, error)
}

type Handler struct {
	configCache *feed.ConfigCache
	runRepo     database.RunRepository
	assetRepo   database.AssetRepository
	generator   GeneratorInterface
	scheduler   tasks.TaskSchedulerInterface
	content     ContentSource
}
