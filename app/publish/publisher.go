package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lysyi3m/listing-comb/app/retry"
	"github.com/lysyi3m/listing-comb/app/store"
)

const (
	DefaultImageHost = "drive.google.com"
	DefaultTableHost = "docs.google.com"

	KindImage   = "image"
	KindCatalog = "catalog"
)

func ImageURL(host, id string) string {
	return fmt.Sprintf("https://%s/uc?export=view&id=%s", host, id)
}

func CatalogURL(host, id string) string {
	return fmt.Sprintf("https://%s/spreadsheets/d/%s/edit?usp=sharing", host, id)
}

type PublishedAsset struct {
	Name     string
	RemoteID string
	URL      string
	Kind     string
}

type AssetLedger interface {
	RecordAsset(ctx context.Context, asset PublishedAsset) error
}

type Config struct {
	ImagesFolder string
	Role         store.Role
	ImageHost    string
	TableHost    string
	Attempts     int
	Delay        time.Duration
}

type Publisher struct {
	store  store.RemoteStore
	cfg    Config
	ledger AssetLedger
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	folderID string
}

func NewPublisher(remote store.RemoteStore, cfg Config, ledger AssetLedger) *Publisher {
	if cfg.ImageHost == "" {
		cfg.ImageHost = DefaultImageHost
	}
	if cfg.TableHost == "" {
		cfg.TableHost = DefaultTableHost
	}
	if cfg.Role == "" {
		cfg.Role = store.RoleWriter
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	return &Publisher{store: remote, cfg: cfg, ledger: ledger}
}

// WithImagesFolder returns a publisher sharing the store and settings but
// placing images into another folder.
func (p *Publisher) WithImagesFolder(name string, role store.Role) *Publisher {
	cfg := p.cfg
	cfg.ImagesFolder = name
	if role != "" {
		cfg.Role = role
	}
	clone := NewPublisher(p.store, cfg, p.ledger)
	clone.sleep = p.sleep
	return clone
}

func (p *Publisher) policy() retry.Policy {
	return retry.Policy{
		Attempts: p.cfg.Attempts,
		Backoff:  retry.Fixed(p.cfg.Delay),
		Sleep:    p.sleep,
	}
}

// PublishImage uploads a composed image into the shared images folder and
// returns its public view URL. An existing image of the same name is
// overwritten rather than duplicated.
func (p *Publisher) PublishImage(ctx context.Context, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	folderID, err := p.ensureFolder(ctx)
	if err != nil {
		slog.Warn("Images folder unavailable, uploading to root", "folder", p.cfg.ImagesFolder, "error", err)
		folderID = ""
	}

	name := filepath.Base(localPath)
	asset, err := p.upsert(ctx, store.Query{Name: name, ParentID: folderID}, data, true)
	if err != nil {
		return "", err
	}

	if err := p.grant(ctx, asset.ID); err != nil {
		return "", err
	}

	url := ImageURL(p.cfg.ImageHost, asset.ID)
	p.record(ctx, PublishedAsset{Name: name, RemoteID: asset.ID, URL: url, Kind: KindImage})
	return url, nil
}

// PublishCatalogFile uploads the catalog table under name. An existing file
// is overwritten only when forceUpdate is set; public access is granted in
// every case.
func (p *Publisher) PublishCatalogFile(ctx context.Context, name, localPath string, forceUpdate bool) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read catalog file: %w", err)
	}

	asset, err := p.upsert(ctx, store.Query{Name: name}, data, forceUpdate)
	if err != nil {
		return "", err
	}

	if err := p.grant(ctx, asset.ID); err != nil {
		return "", err
	}

	url := CatalogURL(p.cfg.TableHost, asset.ID)
	p.record(ctx, PublishedAsset{Name: name, RemoteID: asset.ID, URL: url, Kind: KindCatalog})
	return url, nil
}

// LookupCatalogURL derives the shareable link of an already published
// catalog without writing anything.
func (p *Publisher) LookupCatalogURL(ctx context.Context, name string) (string, bool, error) {
	asset, err := p.find(ctx, store.Query{Name: name})
	if err != nil || asset == nil {
		return "", false, err
	}
	return CatalogURL(p.cfg.TableHost, asset.ID), true, nil
}

// FetchCatalogFile downloads the remote copy of the catalog, if any.
func (p *Publisher) FetchCatalogFile(ctx context.Context, name string) ([]byte, bool, error) {
	asset, err := p.find(ctx, store.Query{Name: name})
	if err != nil || asset == nil {
		return nil, false, err
	}

	var data []byte
	err = p.policy().Do(ctx, "download "+name, func(ctx context.Context, attempt int) error {
		var getErr error
		data, getErr = p.store.GetFileContent(ctx, asset.ID)
		return getErr
	})
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (p *Publisher) ensureFolder(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.folderID != "" {
		return p.folderID, nil
	}

	folder, err := p.find(ctx, store.Query{Name: p.cfg.ImagesFolder, Folder: true})
	if err != nil {
		return "", err
	}

	if folder == nil {
		err = p.policy().Do(ctx, "create folder", func(ctx context.Context, attempt int) error {
			var createErr error
			folder, createErr = p.store.CreateFolder(ctx, p.cfg.ImagesFolder)
			return createErr
		})
		if err != nil {
			return "", err
		}
		slog.Info("Images folder created", "folder", p.cfg.ImagesFolder, "id", folder.ID)

		if err := p.grant(ctx, folder.ID); err != nil {
			slog.Warn("Failed to share images folder", "folder", p.cfg.ImagesFolder, "error", err)
		}
	}

	p.folderID = folder.ID
	return p.folderID, nil
}

func (p *Publisher) find(ctx context.Context, q store.Query) (*store.Asset, error) {
	var asset *store.Asset
	err := p.policy().Do(ctx, "find "+q.Name, func(ctx context.Context, attempt int) error {
		var findErr error
		asset, findErr = p.store.FindByName(ctx, q)
		return findErr
	})
	return asset, err
}

// upsert looks the asset up by name and creates it when absent. An existing
// asset gets new content only when overwrite is set.
func (p *Publisher) upsert(ctx context.Context, q store.Query, data []byte, overwrite bool) (*store.Asset, error) {
	mimeType := store.MimeType(q.Name)

	asset, err := p.find(ctx, q)
	if err != nil {
		return nil, err
	}

	if asset == nil {
		err = p.policy().Do(ctx, "create "+q.Name, func(ctx context.Context, attempt int) error {
			var createErr error
			asset, createErr = p.store.CreateFile(ctx, q.Name, q.ParentID, mimeType, bytes.NewReader(data))
			return createErr
		})
		if err != nil {
			return nil, err
		}
		slog.Debug("Asset created", "name", q.Name, "id", asset.ID)
		return asset, nil
	}

	if overwrite {
		err = p.policy().Do(ctx, "update "+q.Name, func(ctx context.Context, attempt int) error {
			return p.store.UpdateFileContent(ctx, asset.ID, mimeType, bytes.NewReader(data))
		})
		if err != nil {
			return nil, err
		}
		slog.Debug("Asset updated", "name", q.Name, "id", asset.ID)
	}

	return asset, nil
}

func (p *Publisher) grant(ctx context.Context, id string) error {
	return p.policy().Do(ctx, "share "+id, func(ctx context.Context, attempt int) error {
		return p.store.SetPublicRole(ctx, id, p.cfg.Role)
	})
}

func (p *Publisher) record(ctx context.Context, asset PublishedAsset) {
	if p.ledger == nil {
		return
	}
	if err := p.ledger.RecordAsset(ctx, asset); err != nil {
		slog.Warn("Failed to record published asset", "name", asset.Name, "error", err)
	}
}
