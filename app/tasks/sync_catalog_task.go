package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lysyi3m/listing-comb/app/catalog"
	"github.com/lysyi3m/listing-comb/app/database"
	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/lysyi3m/listing-comb/app/media"
	"github.com/lysyi3m/listing-comb/app/publish"
	"github.com/lysyi3m/listing-comb/app/store"
)

// pendingSuffix marks a saved catalog whose upload has not succeeded yet.
const pendingSuffix = ".pending"

// Pipeline holds what every sync cycle shares. Publisher and Runs are
// optional.
type Pipeline struct {
	Fetcher    FeedFetcher
	Parser     *feed.Parser
	Generator  *feed.Generator
	HTTPClient *http.Client
	UserAgent  string
	Publisher  *publish.Publisher
	Runs       database.RunRepository
}

type SyncCatalogTask struct {
	Task
	FeedConfig *feed.Config
	fetcher    FeedFetcher
	parser     *feed.Parser
	generator  *feed.Generator
	reconciler *catalog.Reconciler
	publisher  CatalogPublisher
	runs       database.RunRepository

	outcome    catalog.Outcome
	catalogURL string
}

func (p *Pipeline) NewSyncCatalogTask(feedConfig *feed.Config) (*SyncCatalogTask, error) {
	assets, err := media.LoadAssets(feedConfig.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to load image assets: %w", err)
	}

	imageFetcher := media.NewFetcher(p.HTTPClient, p.UserAgent, feedConfig.Images.FetchRPS, feedConfig.Images.FetchAttempts)
	compositor := media.NewCompositor(feedConfig.Images, assets, imageFetcher)

	task := &SyncCatalogTask{
		Task:       NewTask(TaskTypeSyncCatalog, feedConfig.Name),
		FeedConfig: feedConfig,
		fetcher:    p.Fetcher,
		parser:     p.Parser,
		generator:  p.Generator,
		runs:       p.Runs,
	}

	if p.Publisher != nil && feedConfig.Publish.Enabled {
		profilePublisher := p.Publisher.WithImagesFolder(feedConfig.Publish.ImagesFolder, store.Role(feedConfig.Publish.Role))
		task.publisher = profilePublisher
		task.reconciler = catalog.NewReconciler(feedConfig, compositor, profilePublisher)
	} else {
		task.reconciler = catalog.NewReconciler(feedConfig, compositor, nil)
	}

	return task, nil
}

// Outcome is the result of the last Execute call.
func (t *SyncCatalogTask) Outcome() catalog.Outcome {
	return t.outcome
}

func (t *SyncCatalogTask) CatalogURL() string {
	return t.catalogURL
}

func (t *SyncCatalogTask) Execute(ctx context.Context) error {

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.FeedConfig.Settings.Enabled {
		slog.Debug("Profile disabled, skipping", "profile", t.ProfileName)
		return nil
	}

	started := time.Now()
	t.outcome = catalog.Outcome{}
	t.catalogURL = ""

	issues, records, err := t.sync(ctx)
	t.recordRun(ctx, started, issues, records, err)
	if err != nil {
		slog.Error("Task failed", "type", "SyncCatalog", "profile", t.ProfileName, "error", err)
		return err
	}

	slog.Info("Task completed",
		"type", "SyncCatalog",
		"profile", t.ProfileName,
		"duration", t.GetDuration(),
		"added", len(t.outcome.Added),
		"patched", len(t.outcome.Patched),
		"removed", len(t.outcome.Removed),
		"failed", len(t.outcome.Failed),
		"records", records,
		"url", t.catalogURL)

	return nil
}

func (t *SyncCatalogTask) sync(ctx context.Context) (int, int, error) {
	tablePath := t.FeedConfig.Table.Path

	if t.publisher != nil && t.FeedConfig.Table.PullRemote {
		t.pullRemoteTable(ctx, tablePath)
	}

	data, err := t.fetcher.Run(ctx, t.FeedConfig)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch feed: %w", err)
	}

	items, issues, err := t.parser.Run(data, t.FeedConfig)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse feed: %w", err)
	}
	for _, issue := range issues {
		slog.Warn("Feed item skipped", "profile", t.ProfileName, "index", issue.Index, "id", issue.ExternalID, "reason", issue.Reason)
	}

	table, err := catalog.LoadTable(tablePath)
	if err != nil {
		return len(issues), 0, fmt.Errorf("failed to load catalog: %w", err)
	}
	table.EnsureColumns(feed.Columns(items, t.FeedConfig.Table.StandardColumns, t.FeedConfig.Table.CustomAttributes))
	if err := table.Validate(t.FeedConfig.Table.RequiredColumns); err != nil {
		return len(issues), table.Len(), err
	}

	t.outcome = t.reconciler.Run(ctx, items, table)
	if err := ctx.Err(); err != nil {
		return len(issues), table.Len(), fmt.Errorf("cycle interrupted, catalog not saved: %w", err)
	}

	changed := t.outcome.Changed()
	if changed {
		if err := catalog.SaveTable(tablePath, table); err != nil {
			return len(issues), table.Len(), fmt.Errorf("failed to save catalog: %w", err)
		}
	}

	if t.FeedConfig.Table.ProcessedFeed != "" {
		if err := t.exportFeed(table, changed); err != nil {
			slog.Warn("Failed to export processed feed", "profile", t.ProfileName, "path", t.FeedConfig.Table.ProcessedFeed, "error", err)
		}
	}

	if t.publisher != nil {
		url, err := t.publishTable(ctx, tablePath, changed)
		if err != nil {
			return len(issues), table.Len(), fmt.Errorf("failed to publish catalog: %w", err)
		}
		t.catalogURL = url
	}

	return len(issues), table.Len(), nil
}

// publishTable uploads the catalog when it changed or a previous upload is
// still pending. Otherwise it only looks the existing link up.
func (t *SyncCatalogTask) publishTable(ctx context.Context, tablePath string, changed bool) (string, error) {
	remoteName := t.FeedConfig.Publish.RemoteName
	pending := tablePath + pendingSuffix

	if _, err := os.Stat(tablePath); errors.Is(err, os.ErrNotExist) {
		return "", nil
	}

	_, pendingErr := os.Stat(pending)
	if changed || pendingErr == nil {
		if err := os.WriteFile(pending, nil, 0644); err != nil {
			slog.Warn("Failed to mark catalog upload as pending", "path", pending, "error", err)
		}

		url, err := t.publisher.PublishCatalogFile(ctx, remoteName, tablePath, true)
		if err != nil {
			return "", err
		}
		os.Remove(pending)
		return url, nil
	}

	url, found, err := t.publisher.LookupCatalogURL(ctx, remoteName)
	if err != nil {
		return "", err
	}
	if found {
		return url, nil
	}

	return t.publisher.PublishCatalogFile(ctx, remoteName, tablePath, false)
}

// pullRemoteTable replaces the local catalog with the published copy, which
// may carry manual edits. A local catalog still waiting for upload is newer
// than the remote one and is kept.
func (t *SyncCatalogTask) pullRemoteTable(ctx context.Context, tablePath string) {
	if _, err := os.Stat(tablePath + pendingSuffix); err == nil {
		slog.Info("Local catalog upload pending, remote copy not pulled", "profile", t.ProfileName)
		return
	}

	data, found, err := t.publisher.FetchCatalogFile(ctx, t.FeedConfig.Publish.RemoteName)
	if err != nil {
		slog.Warn("Failed to download remote catalog, using local copy", "profile", t.ProfileName, "error", err)
		return
	}
	if !found {
		return
	}

	if _, err := catalog.DecodeTable(tablePath, data); err != nil {
		slog.Warn("Remote catalog unreadable, using local copy", "profile", t.ProfileName, "error", err)
		return
	}
	if err := catalog.ReplaceWithBackup(tablePath, data); err != nil {
		slog.Warn("Failed to store remote catalog", "profile", t.ProfileName, "error", err)
		return
	}
	slog.Debug("Remote catalog pulled", "profile", t.ProfileName, "bytes", len(data))
}

func (t *SyncCatalogTask) exportFeed(table *catalog.Table, changed bool) error {
	path := t.FeedConfig.Table.ProcessedFeed
	if _, err := os.Stat(path); err == nil && !changed {
		return nil
	}

	data, err := t.generator.Run(table.Listings())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (t *SyncCatalogTask) recordRun(ctx context.Context, started time.Time, issues, records int, runErr error) {
	if t.runs == nil {
		return
	}

	run := database.Run{
		Profile:    t.ProfileName,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Added:      len(t.outcome.Added),
		Patched:    len(t.outcome.Patched),
		Removed:    len(t.outcome.Removed),
		Resynced:   len(t.outcome.Resynced),
		Skipped:    len(t.outcome.Skipped),
		Failed:     len(t.outcome.Failed),
		Issues:     issues,
		Records:    records,
		Changed:    t.outcome.Changed(),
		CatalogURL: t.catalogURL,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	// The ledger write must survive a cancelled cycle.
	if _, err := t.runs.InsertRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("Failed to record run", "profile", t.ProfileName, "error", err)
	}
}
