package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/lysyi3m/listing-comb/app/catalog"
	"github.com/lysyi3m/listing-comb/app/database"
	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/lysyi3m/listing-comb/app/publish"
	"github.com/lysyi3m/listing-comb/app/store"
)

type staticFetcher struct {
	mu   sync.Mutex
	data []byte
	err  error
}

func (f *staticFetcher) Run(ctx context.Context, feedConfig *feed.Config) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data, f.err
}

func (f *staticFetcher) set(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = []byte(data)
}

type mockRunRepository struct {
	mu   sync.Mutex
	runs []database.Run
}

func (m *mockRunRepository) InsertRun(ctx context.Context, run database.Run) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = fmt.Sprintf("run-%d", len(m.runs)+1)
	m.runs = append(m.runs, run)
	return run.ID, nil
}

func (m *mockRunRepository) GetLatestRun(ctx context.Context, profile string) (*database.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Profile == profile {
			run := m.runs[i]
			return &run, nil
		}
	}
	return nil, nil
}

func (m *mockRunRepository) ListRuns(ctx context.Context, profile string, limit int) ([]database.Run, error) {
	return nil, nil
}

func (m *mockRunRepository) GetRunCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs), nil
}

func newImageServer(t *testing.T) *httptest.Server {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/img/photo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func feedXML(baseURL string, ids ...string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<Ads formatVersion=\"3\" target=\"Avito.ru\">\n")
	for _, id := range ids {
		image := baseURL + "/img/photo.png"
		if strings.HasSuffix(id, "broken") {
			image = baseURL + "/img/missing.png"
		}
		fmt.Fprintf(&b, `  <Ad>
    <Id>%s</Id>
    <Title>Part %s</Title>
    <Description><![CDATA[<p>Intro Lada; more</p>]]></Description>
    <Price>1000</Price>
    <Images><Image url="%s"/></Images>
  </Ad>
`, id, id, image)
	}
	b.WriteString("</Ads>\n")
	return b.String()
}

func loadTestProfile(t *testing.T, enabled bool) (*feed.ConfigCache, string) {
	t.Helper()

	dir := t.TempDir()
	profile := fmt.Sprintf(`
url: "http://feed.invalid/avito.xml"
settings:
  enabled: %v
  max_items: 10
description:
  insertion: "<TXT>"
  marker: "Lada;"
images:
  output_dir: %s
table:
  path: %s
  processed_feed: %s
  custom_attributes:
    - name: AdStatus
      value: Free
publish:
  enabled: true
`, enabled, filepath.Join(dir, "images"), filepath.Join(dir, "parts.xlsx"), filepath.Join(dir, "parts.xml"))

	if err := os.WriteFile(filepath.Join(dir, "parts.yml"), []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}

	cache := feed.NewConfigCache(dir)
	if err := cache.Run(); err != nil {
		t.Fatalf("Failed to load profile: %v", err)
	}
	return cache, dir
}

func newTestPipeline(server *httptest.Server, fetcher FeedFetcher, remote store.RemoteStore, runs database.RunRepository) *Pipeline {
	return &Pipeline{
		Fetcher:    fetcher,
		Parser:     feed.NewParser(),
		Generator:  feed.NewGenerator("test"),
		HTTPClient: server.Client(),
		UserAgent:  "listing-comb-test",
		Publisher:  publish.NewPublisher(remote, publish.Config{}, nil),
		Runs:       runs,
	}
}

func runCycle(t *testing.T, pipeline *Pipeline, feedConfig *feed.Config) *SyncCatalogTask {
	t.Helper()

	task, err := pipeline.NewSyncCatalogTask(feedConfig)
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	task.Start()
	if err := task.Execute(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	return task
}

func TestSyncCatalogTask_Cycles(t *testing.T) {
	server := newImageServer(t)
	cache, dir := loadTestProfile(t, true)
	feedConfig, _ := cache.GetConfig("parts")

	fetcher := &staticFetcher{}
	fetcher.set(feedXML(server.URL, "bz1", "bz2broken"))
	remote := store.NewMemory()
	runs := &mockRunRepository{}
	pipeline := newTestPipeline(server, fetcher, remote, runs)

	first := runCycle(t, pipeline, feedConfig)

	if !slices.Equal(first.Outcome().Added, []string{"bz1", "bz2broken"}) {
		t.Errorf("Expected both items added, got %v", first.Outcome().Added)
	}
	if !slices.Equal(first.Outcome().Failed, []string{"bz2broken"}) {
		t.Errorf("Expected broken item reported, got %v", first.Outcome().Failed)
	}
	if !strings.HasPrefix(first.CatalogURL(), "https://docs.google.com/spreadsheets/d/") {
		t.Errorf("Unexpected catalog URL %s", first.CatalogURL())
	}

	table, err := catalog.LoadTable(filepath.Join(dir, "parts.xlsx"))
	if err != nil {
		t.Fatalf("Failed to load saved catalog: %v", err)
	}
	record := table.Get("bz1")
	if record == nil || !record.HasImages() || !strings.HasPrefix(record.Images[0], "https://drive.google.com/uc?export=view&id=") {
		t.Fatalf("Expected bz1 with a published image, got %+v", record)
	}
	if got := record.Fields.Get(feed.DescriptionField); got != "<p>Intro Lada;<TXT> more</p>" {
		t.Errorf("Unexpected stored description %q", got)
	}
	if table.Get("bz2broken").HasImages() {
		t.Errorf("Expected broken item without images")
	}
	if _, err := os.Stat(filepath.Join(dir, "parts.xml")); err != nil {
		t.Errorf("Expected processed feed to be written: %v", err)
	}

	writes := remote.Calls().Writes()
	second := runCycle(t, pipeline, feedConfig)

	if second.Outcome().Changed() {
		t.Errorf("Expected unchanged cycle, got %+v", second.Outcome())
	}
	if got := remote.Calls().Writes(); got != writes {
		t.Errorf("Expected no remote writes on unchanged cycle, got %d more", got-writes)
	}
	if second.CatalogURL() != first.CatalogURL() {
		t.Errorf("Expected stable catalog URL, got %s and %s", first.CatalogURL(), second.CatalogURL())
	}

	fetcher.set(feedXML(server.URL, "bz2broken"))
	third := runCycle(t, pipeline, feedConfig)

	if !slices.Equal(third.Outcome().Removed, []string{"bz1"}) {
		t.Errorf("Expected bz1 removed, got %v", third.Outcome().Removed)
	}
	if third.CatalogURL() != first.CatalogURL() {
		t.Errorf("Expected the same remote catalog to be updated")
	}
	if calls := remote.Calls(); calls.UpdateContent != 1 {
		t.Errorf("Expected one catalog update, got %d", calls.UpdateContent)
	}

	if len(runs.runs) != 3 || !runs.runs[0].Changed || runs.runs[1].Changed || !runs.runs[2].Changed {
		t.Errorf("Unexpected run ledger %+v", runs.runs)
	}
	if runs.runs[0].Records != 2 || runs.runs[2].Records != 1 {
		t.Errorf("Unexpected record counts %d and %d", runs.runs[0].Records, runs.runs[2].Records)
	}
}

func TestSyncCatalogTask_PendingUploadRetried(t *testing.T) {
	server := newImageServer(t)
	cache, dir := loadTestProfile(t, true)
	feedConfig, _ := cache.GetConfig("parts")

	fetcher := &staticFetcher{}
	fetcher.set(feedXML(server.URL, "bz1"))
	remote := store.NewMemory()
	pipeline := newTestPipeline(server, fetcher, remote, nil)
	pipeline.Publisher = publish.NewPublisher(remote, publish.Config{Attempts: 1}, nil)

	remote.FailNext("update", 1)
	first := runCycle(t, pipeline, feedConfig)
	fetcher.set(feedXML(server.URL, "bz2"))

	task, _ := pipeline.NewSyncCatalogTask(feedConfig)
	task.Start()
	if err := task.Execute(context.Background()); err == nil {
		t.Fatal("Expected failed catalog update to be reported")
	}
	if _, err := os.Stat(filepath.Join(dir, "parts.xlsx"+pendingSuffix)); err != nil {
		t.Fatalf("Expected pending marker after failed upload: %v", err)
	}

	third := runCycle(t, pipeline, feedConfig)
	if third.Outcome().Changed() {
		t.Errorf("Expected catalog already up to date locally, got %+v", third.Outcome())
	}
	if third.CatalogURL() != first.CatalogURL() {
		t.Errorf("Expected pending upload to reuse the remote catalog")
	}
	if _, err := os.Stat(filepath.Join(dir, "parts.xlsx"+pendingSuffix)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected pending marker to be cleared")
	}
}

func TestSyncCatalogTask_FetchFailure(t *testing.T) {
	server := newImageServer(t)
	cache, dir := loadTestProfile(t, true)
	feedConfig, _ := cache.GetConfig("parts")

	runs := &mockRunRepository{}
	fetcher := &staticFetcher{err: errors.New("connection refused")}
	pipeline := newTestPipeline(server, fetcher, store.NewMemory(), runs)

	task, _ := pipeline.NewSyncCatalogTask(feedConfig)
	task.Start()
	if err := task.Execute(context.Background()); err == nil {
		t.Fatal("Expected fetch error")
	}

	if _, err := os.Stat(filepath.Join(dir, "parts.xlsx")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Catalog must not be written when the cycle aborts")
	}
	if len(runs.runs) != 1 || runs.runs[0].Error == "" {
		t.Errorf("Expected failed run in the ledger, got %+v", runs.runs)
	}
}

func TestSyncCatalogTask_PullRemote(t *testing.T) {
	server := newImageServer(t)
	cache, dir := loadTestProfile(t, true)
	feedConfig, _ := cache.GetConfig("parts")
	pulled := *feedConfig
	pulled.Table.PullRemote = true

	fetcher := &staticFetcher{}
	fetcher.set(feedXML(server.URL, "bz1"))
	remote := store.NewMemory()
	pipeline := newTestPipeline(server, fetcher, remote, nil)

	runCycle(t, pipeline, feedConfig)

	// Someone edits the published catalog by hand.
	table := catalog.NewTable([]string{feed.IDField, "Title", feed.ImageURLsColumn})
	table.Append(&catalog.Record{ID: "bz1", Fields: feed.NewFields(), Images: []string{"https://img/manual"}})
	edited, err := catalog.EncodeTable("parts.xlsx", table)
	if err != nil {
		t.Fatal(err)
	}
	asset, _ := remote.FindByName(context.Background(), store.Query{Name: "parts.xlsx"})
	if err := remote.UpdateFileContent(context.Background(), asset.ID, store.MimeType("parts.xlsx"), bytes.NewReader(edited)); err != nil {
		t.Fatal(err)
	}

	runCycle(t, pipeline, &pulled)

	if _, err := os.Stat(filepath.Join(dir, "parts.xlsx.bak")); err != nil {
		t.Errorf("Expected backup of the local catalog: %v", err)
	}
	local, err := catalog.LoadTable(filepath.Join(dir, "parts.xlsx"))
	if err != nil {
		t.Fatal(err)
	}
	if got := local.Get("bz1").Images; !slices.Equal(got, []string{"https://img/manual"}) {
		t.Errorf("Expected remote edits to be kept, got %v", got)
	}
}

func TestSyncCatalogTask_PullRemoteSkippedWhileUploadPending(t *testing.T) {
	server := newImageServer(t)
	cache, dir := loadTestProfile(t, true)
	feedConfig, _ := cache.GetConfig("parts")
	pulled := *feedConfig
	pulled.Table.PullRemote = true

	fetcher := &staticFetcher{}
	fetcher.set(feedXML(server.URL, "bz1"))
	remote := store.NewMemory()
	pipeline := newTestPipeline(server, fetcher, remote, nil)
	pipeline.Publisher = publish.NewPublisher(remote, publish.Config{Attempts: 1}, nil)

	runCycle(t, pipeline, feedConfig)

	remote.FailNext("update", 1)
	fetcher.set(feedXML(server.URL, "bz2"))
	task, _ := pipeline.NewSyncCatalogTask(feedConfig)
	task.Start()
	if err := task.Execute(context.Background()); err == nil {
		t.Fatal("Expected failed catalog update to be reported")
	}

	runCycle(t, pipeline, &pulled)

	if _, err := os.Stat(filepath.Join(dir, "parts.xlsx.bak")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected local catalog not to be replaced while its upload is pending")
	}
	if _, err := os.Stat(filepath.Join(dir, "parts.xlsx"+pendingSuffix)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected pending marker to be cleared")
	}

	asset, err := remote.FindByName(context.Background(), store.Query{Name: "parts.xlsx"})
	if err != nil || asset == nil {
		t.Fatalf("Expected remote catalog, got %v", err)
	}
	data, err := remote.GetFileContent(context.Background(), asset.ID)
	if err != nil {
		t.Fatal(err)
	}
	uploaded, err := catalog.DecodeTable("parts.xlsx", data)
	if err != nil {
		t.Fatal(err)
	}
	if uploaded.Get("bz2") == nil || uploaded.Get("bz1") != nil {
		t.Errorf("Expected the pending local catalog to be uploaded, got %d records", uploaded.Len())
	}
}

func TestSyncCatalogTask_Disabled(t *testing.T) {
	server := newImageServer(t)
	cache, _ := loadTestProfile(t, false)
	feedConfig, _ := cache.GetConfig("parts")

	fetcher := &staticFetcher{err: errors.New("must not be called")}
	runs := &mockRunRepository{}
	pipeline := newTestPipeline(server, fetcher, store.NewMemory(), runs)

	task, _ := pipeline.NewSyncCatalogTask(feedConfig)
	if err := task.Execute(context.Background()); err != nil {
		t.Errorf("Expected disabled profile to be skipped, got %v", err)
	}
	if len(runs.runs) != 0 {
		t.Errorf("Expected no ledger entry for a disabled profile")
	}
}
