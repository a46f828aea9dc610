package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lysyi3m/listing-comb/app/store"
)

type mockLedger struct {
	assets []PublishedAsset
}

func (m *mockLedger) RecordAsset(ctx context.Context, asset PublishedAsset) error {
	m.assets = append(m.assets, asset)
	return nil
}

func newTestPublisher(remote store.RemoteStore, ledger AssetLedger) *Publisher {
	p := NewPublisher(remote, Config{ImagesFolder: "avito_images", Attempts: 3, Delay: 5 * time.Second}, ledger)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestURLFormats(t *testing.T) {
	if got := ImageURL("drive.google.com", "abc"); got != "https://drive.google.com/uc?export=view&id=abc" {
		t.Errorf("Unexpected image URL %s", got)
	}
	if got := CatalogURL("docs.google.com", "xyz"); got != "https://docs.google.com/spreadsheets/d/xyz/edit?usp=sharing" {
		t.Errorf("Unexpected catalog URL %s", got)
	}
}

func TestPublishImage(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemory()
	ledger := &mockLedger{}
	p := newTestPublisher(remote, ledger)

	first := writeFile(t, "bz1_1.jpg", "one")
	url, err := p.PublishImage(ctx, first)
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	assets := remote.Assets()
	if len(assets) != 2 || !assets[0].Folder || assets[0].Name != "avito_images" {
		t.Fatalf("Expected folder and image, got %+v", assets)
	}
	image := assets[1]
	if image.ParentID != assets[0].ID {
		t.Errorf("Expected image inside folder, got parent %q", image.ParentID)
	}
	if url != ImageURL(DefaultImageHost, image.ID) {
		t.Errorf("Unexpected URL %s", url)
	}
	if remote.Role(assets[0].ID) != store.RoleWriter || remote.Role(image.ID) != store.RoleWriter {
		t.Errorf("Expected folder and image to be shared")
	}

	second := writeFile(t, "bz1_2.jpg", "two")
	if _, err := p.PublishImage(ctx, second); err != nil {
		t.Fatal(err)
	}
	if calls := remote.Calls(); calls.CreateFolder != 1 {
		t.Errorf("Expected folder to be created once, got %d", calls.CreateFolder)
	}

	again, err := p.PublishImage(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if again != url {
		t.Errorf("Expected same URL on republish, got %s and %s", url, again)
	}
	calls := remote.Calls()
	if calls.CreateFile != 2 || calls.UpdateContent != 1 {
		t.Errorf("Expected 2 creates and 1 update, got %+v", calls)
	}
	if len(ledger.assets) != 3 || ledger.assets[0].Kind != KindImage {
		t.Errorf("Expected 3 recorded images, got %+v", ledger.assets)
	}
}

func TestPublishImage_FolderFailureFallsBackToRoot(t *testing.T) {
	remote := store.NewMemory()
	remote.FailNext("create_folder", 3)
	p := newTestPublisher(remote, nil)

	if _, err := p.PublishImage(context.Background(), writeFile(t, "bz1_1.jpg", "x")); err != nil {
		t.Fatalf("Expected upload to root, got %v", err)
	}

	assets := remote.Assets()
	if len(assets) != 1 || assets[0].ParentID != "" {
		t.Errorf("Expected a single root-level image, got %+v", assets)
	}
}

func TestPublishImage_RetriesTransientFailures(t *testing.T) {
	remote := store.NewMemory()
	remote.FailNext("create_file", 2)
	p := newTestPublisher(remote, nil)

	if _, err := p.PublishImage(context.Background(), writeFile(t, "bz1_1.jpg", "x")); err != nil {
		t.Fatalf("Expected third attempt to succeed, got %v", err)
	}
	if calls := remote.Calls(); calls.CreateFile != 3 {
		t.Errorf("Expected 3 create attempts, got %d", calls.CreateFile)
	}
}

func TestPublishImage_ExhaustedRetries(t *testing.T) {
	remote := store.NewMemory()
	remote.FailNext("set_role", 10)
	p := newTestPublisher(remote, nil)

	if _, err := p.PublishImage(context.Background(), writeFile(t, "bz1_1.jpg", "x")); err == nil {
		t.Fatal("Expected error when sharing keeps failing")
	}
}

func TestPublishCatalogFile_Idempotent(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemory()
	p := newTestPublisher(remote, nil)
	path := writeFile(t, "catalog.xlsx", "v1")

	first, err := p.PublishCatalogFile(ctx, "catalog.xlsx", path, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.PublishCatalogFile(ctx, "catalog.xlsx", path, false)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("Expected the same URL, got %s and %s", first, second)
	}
	calls := remote.Calls()
	if calls.CreateFile+calls.UpdateContent != 1 {
		t.Errorf("Expected exactly one content write, got %+v", calls)
	}
	if calls.SetRole != 2 {
		t.Errorf("Expected access to be granted on every call, got %d", calls.SetRole)
	}
}

func TestPublishCatalogFile_ForceUpdate(t *testing.T) {
	ctx := context.Background()
	remote := store.NewMemory()
	p := newTestPublisher(remote, nil)
	path := writeFile(t, "catalog.xlsx", "v1")

	url, err := p.PublishCatalogFile(ctx, "catalog.xlsx", path, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := p.PublishCatalogFile(ctx, "catalog.xlsx", path, true); err != nil {
		t.Fatal(err)
	}

	calls := remote.Calls()
	if calls.CreateFile != 1 || calls.UpdateContent != 1 {
		t.Errorf("Expected 1 create and 1 update, got %+v", calls)
	}

	looked, ok, err := p.LookupCatalogURL(ctx, "catalog.xlsx")
	if err != nil || !ok || looked != url {
		t.Errorf("Expected lookup to return %s, got %s (%v, %v)", url, looked, ok, err)
	}

	data, ok, err := p.FetchCatalogFile(ctx, "catalog.xlsx")
	if err != nil || !ok || string(data) != "v2" {
		t.Errorf("Expected remote content v2, got %q (%v, %v)", data, ok, err)
	}
	if remote.Calls().Writes() != 2 {
		t.Errorf("Lookup and download must not write")
	}
}

func TestLookupCatalogURL_Missing(t *testing.T) {
	p := newTestPublisher(store.NewMemory(), nil)

	_, ok, err := p.LookupCatalogURL(context.Background(), "absent.xlsx")
	if err != nil || ok {
		t.Errorf("Expected not found without error, got %v, %v", ok, err)
	}
	_, ok, err = p.FetchCatalogFile(context.Background(), "absent.xlsx")
	if err != nil || ok {
		t.Errorf("Expected not found without error, got %v, %v", ok, err)
	}
}
