package tasks

import (
	"context"

	"github.com/lysyi3m/listing-comb/app/feed"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to manage background sync cycles.
// Example usage:
//
//	scheduler := NewScheduler(configCache, pipeline, workerCount, interval, timeout)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueProfile("parts")
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueProfile(name string) error
	IsRunning(name string) bool
}

type FeedFetcher interface {
	Run(ctx context.Context, feedConfig *feed.Config) ([]byte, error)
}

// CatalogPublisher is the remote side of a profile's catalog table.
type CatalogPublisher interface {
	PublishCatalogFile(ctx context.Context, name, localPath string, forceUpdate bool) (string, error)
	LookupCatalogURL(ctx context.Context, name string) (string, bool, error)
	FetchCatalogFile(ctx context.Context, name string) ([]byte, bool, error)
}
