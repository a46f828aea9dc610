package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/lysyi3m/listing-comb/app/media"
	"github.com/lysyi3m/listing-comb/app/publish"
	"github.com/lysyi3m/listing-comb/app/store"
)

type fakeComposer struct {
	dir   string
	calls map[string]int
}

func newFakeComposer(t *testing.T) *fakeComposer {
	return &fakeComposer{dir: t.TempDir(), calls: make(map[string]int)}
}

func (c *fakeComposer) Compose(ctx context.Context, rawURLs []string, itemID string) []media.Ref {
	c.calls[itemID]++

	var refs []media.Ref
	for i, url := range rawURLs {
		if strings.Contains(url, "broken") {
			continue
		}
		path := filepath.Join(c.dir, fmt.Sprintf("%s_%d.jpg", itemID, i+1))
		if err := os.WriteFile(path, []byte(url), 0644); err != nil {
			continue
		}
		refs = append(refs, media.Local(path))
	}
	return refs
}

func testFeedConfig() *feed.Config {
	return &feed.Config{
		Name: "test",
		Settings: feed.ConfigSettings{
			MaxItems: 10,
		},
		Filters: []feed.ConfigFilter{
			{Field: feed.IDField, Prefixes: []string{"bz"}},
		},
		Description: feed.DescriptionConfig{
			Insertion:       "<TXT>",
			Marker:          "Lada;",
			ParagraphMarker: feed.DefaultParagraphMarker,
		},
		Table: feed.TableConfig{
			CustomAttributes: []feed.Attribute{{Name: "AdStatus", Value: "Free"}},
		},
	}
}

func testItem(id string, images ...string) feed.Item {
	fields := feed.NewFields()
	fields.Set(feed.IDField, id)
	fields.Set("Title", "Part "+id)
	fields.Set(feed.DescriptionField, "<![CDATA[Intro Lada; More text]]>")
	fields.Set("Price", "100")
	if len(images) == 0 {
		images = []string{"https://example.com/" + id + "/1.jpg"}
	}
	return feed.Item{
		ExternalID:   id,
		Fields:       fields,
		Description:  fields.Get(feed.DescriptionField),
		RawImageURLs: images,
		HasImages:    true,
	}
}

func testRecord(id string, images ...string) *Record {
	fields := feed.NewFields()
	fields.Set(feed.IDField, id)
	fields.Set("Title", "Part "+id)
	return &Record{ID: id, Fields: fields, Images: images}
}

func TestReconciler_Scenario(t *testing.T) {
	composer := newFakeComposer(t)
	r := NewReconciler(testFeedConfig(), composer, nil)

	table := NewTable([]string{feed.IDField, "Title", feed.ImageURLsColumn})
	table.Append(testRecord("bzA", "https://img/a1"))
	table.Append(testRecord("bzC", "https://img/c1"))

	outcome := r.Run(context.Background(), []feed.Item{testItem("bzA"), testItem("bzB")}, table)

	ids := table.IDs()
	slices.Sort(ids)
	if !slices.Equal(ids, []string{"bzA", "bzB"}) {
		t.Errorf("Expected catalog [bzA bzB], got %v", ids)
	}
	if !slices.Equal(outcome.Removed, []string{"bzC"}) {
		t.Errorf("Expected bzC removed, got %v", outcome.Removed)
	}
	if !slices.Equal(outcome.Added, []string{"bzB"}) {
		t.Errorf("Expected bzB added, got %v", outcome.Added)
	}
	if !slices.Equal(outcome.Skipped, []string{"bzA"}) {
		t.Errorf("Expected bzA skipped, got %v", outcome.Skipped)
	}
	if composer.calls["bzA"] != 0 {
		t.Errorf("Existing record with images must not be recomposed")
	}
	if got := table.Get("bzA").Images; !slices.Equal(got, []string{"https://img/a1"}) {
		t.Errorf("Expected bzA untouched, got %v", got)
	}
	if !outcome.Changed() {
		t.Errorf("Expected outcome to report a change")
	}
}

func TestReconciler_NewRecordFields(t *testing.T) {
	r := NewReconciler(testFeedConfig(), newFakeComposer(t), nil)
	table := NewTable(nil)

	r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)

	record := table.Get("bz1")
	if record == nil {
		t.Fatal("Expected record to be added")
	}
	if got := record.Fields.Get(feed.DescriptionField); got != "Intro Lada;<TXT> More text" {
		t.Errorf("Expected rewritten description without CDATA, got %q", got)
	}
	if got := record.Fields.Get("AdStatus"); got != "Free" {
		t.Errorf("Expected custom attribute, got %q", got)
	}
	if got := record.Fields.Get(feed.IDField); got != "bz1" {
		t.Errorf("Expected Id field, got %q", got)
	}
	if len(record.Images) != 1 || !strings.HasSuffix(record.Images[0], "bz1_1.jpg") {
		t.Errorf("Expected local image path, got %v", record.Images)
	}
}

func TestReconciler_FilterAndCap(t *testing.T) {
	cfg := testFeedConfig()
	cfg.Settings.MaxItems = 2
	r := NewReconciler(cfg, newFakeComposer(t), nil)
	table := NewTable(nil)

	items := []feed.Item{testItem("xx1"), testItem("bz1"), testItem("bz2"), testItem("bz3")}
	outcome := r.Run(context.Background(), items, table)

	if !slices.Equal(outcome.Added, []string{"bz1", "bz2"}) {
		t.Errorf("Expected the first two accepted items added, got %v", outcome.Added)
	}
	if !slices.Equal(outcome.Skipped, []string{"xx1", "bz3"}) {
		t.Errorf("Expected filtered and capped items skipped, got %v", outcome.Skipped)
	}

	outcome = r.Run(context.Background(), items, table)
	if !slices.Equal(outcome.Added, []string{"bz3"}) {
		t.Errorf("Expected bz3 added on the following cycle, got %v", outcome.Added)
	}
}

func TestReconciler_MissingImagesRecoveredBeyondCap(t *testing.T) {
	cfg := testFeedConfig()
	cfg.Settings.MaxItems = 1
	composer := newFakeComposer(t)
	r := NewReconciler(cfg, composer, nil)

	table := NewTable(nil)
	for _, id := range []string{"bz1", "bz2", "bz3"} {
		table.Append(testRecord(id))
	}

	items := []feed.Item{testItem("bz1"), testItem("bz2"), testItem("bz3"), testItem("bz4"), testItem("bz5")}
	outcome := r.Run(context.Background(), items, table)

	if !slices.Equal(outcome.Patched, []string{"bz1", "bz2", "bz3"}) {
		t.Errorf("Expected every record without images patched, got %v", outcome.Patched)
	}
	if !slices.Equal(outcome.Added, []string{"bz4"}) {
		t.Errorf("Expected cap to limit new items only, got %v", outcome.Added)
	}
	for _, id := range []string{"bz1", "bz2", "bz3"} {
		if !table.Get(id).HasImages() {
			t.Errorf("Expected %s to have images", id)
		}
		if got := table.Get(id).Fields.Get(feed.DescriptionField); got != "" {
			t.Errorf("Image patch must not touch other fields, got description %q", got)
		}
	}
}

func TestReconciler_ImageFailureRetriedNextCycle(t *testing.T) {
	composer := newFakeComposer(t)
	r := NewReconciler(testFeedConfig(), composer, nil)
	table := NewTable(nil)

	broken := testItem("bz1", "https://example.com/broken.jpg")
	outcome := r.Run(context.Background(), []feed.Item{broken, testItem("bz2")}, table)

	if !slices.Equal(outcome.Added, []string{"bz1", "bz2"}) {
		t.Errorf("Expected both items added, got %v", outcome.Added)
	}
	if !slices.Equal(outcome.Failed, []string{"bz1"}) {
		t.Errorf("Expected bz1 reported as failed, got %v", outcome.Failed)
	}
	if table.Get("bz1").HasImages() {
		t.Errorf("Expected bz1 to stay without images")
	}

	fixed := testItem("bz1", "https://example.com/fixed.jpg")
	outcome = r.Run(context.Background(), []feed.Item{fixed, testItem("bz2")}, table)

	if !slices.Equal(outcome.Patched, []string{"bz1"}) {
		t.Errorf("Expected bz1 patched on the next cycle, got %v", outcome.Patched)
	}
	if composer.calls["bz1"] != 2 || composer.calls["bz2"] != 1 {
		t.Errorf("Unexpected compose calls %v", composer.calls)
	}
}

func TestReconciler_IdempotentWithoutRemoteWrites(t *testing.T) {
	remote := store.NewMemory()
	publisher := publish.NewPublisher(remote, publish.Config{ImagesFolder: "avito_images"}, nil)
	r := NewReconciler(testFeedConfig(), newFakeComposer(t), publisher)
	table := NewTable(nil)
	items := []feed.Item{testItem("bz1"), testItem("bz2")}

	first := r.Run(context.Background(), items, table)
	if len(first.Added) != 2 {
		t.Fatalf("Expected 2 added, got %v", first.Added)
	}
	if !strings.HasPrefix(table.Get("bz1").Images[0], "https://drive.google.com/uc?export=view&id=") {
		t.Errorf("Expected published image URL, got %v", table.Get("bz1").Images)
	}

	writes := remote.Calls().Writes()
	snapshot := table.Listings()

	second := r.Run(context.Background(), items, table)
	if second.Changed() {
		t.Errorf("Expected no changes on unchanged feed, got %+v", second)
	}
	if got := remote.Calls().Writes(); got != writes {
		t.Errorf("Expected no remote writes on the second run, got %d more", got-writes)
	}
	for i, listing := range table.Listings() {
		if !slices.Equal(listing.ImageURLs, snapshot[i].ImageURLs) {
			t.Errorf("Expected images unchanged for record %d", i)
		}
	}
}

func TestReconciler_PublishFailureKeepsLocalPath(t *testing.T) {
	remote := store.NewMemory()
	remote.FailNext("create_file", 100)
	publisher := publish.NewPublisher(remote, publish.Config{ImagesFolder: "avito_images", Attempts: 1}, nil)
	r := NewReconciler(testFeedConfig(), newFakeComposer(t), publisher)
	table := NewTable(nil)

	outcome := r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)

	if len(outcome.Added) != 1 || !slices.Equal(outcome.Failed, []string{"bz1"}) {
		t.Errorf("Expected item added with local fallback and reported failed, got %+v", outcome)
	}
	if images := table.Get("bz1").Images; len(images) != 1 || !strings.HasSuffix(images[0], "bz1_1.jpg") {
		t.Errorf("Expected local path fallback, got %v", images)
	}

	outcome = r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)
	if outcome.Changed() || !slices.Equal(outcome.Failed, []string{"bz1"}) {
		t.Errorf("Expected unchanged fallback while the store is down, got %+v", outcome)
	}
}

func TestReconciler_LocalFallbackPublishedNextCycle(t *testing.T) {
	remote := store.NewMemory()
	publisher := publish.NewPublisher(remote, publish.Config{ImagesFolder: "avito_images", Attempts: 1}, nil)
	composer := newFakeComposer(t)
	r := NewReconciler(testFeedConfig(), composer, publisher)
	table := NewTable(nil)

	remote.FailNext("create_file", 1)
	outcome := r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)
	if images := table.Get("bz1").Images; len(images) != 1 || strings.HasPrefix(images[0], "https://") {
		t.Fatalf("Expected local path after failed upload, got %v", images)
	}
	if !slices.Equal(outcome.Failed, []string{"bz1"}) {
		t.Errorf("Expected bz1 reported failed, got %v", outcome.Failed)
	}

	outcome = r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)
	if !slices.Equal(outcome.Patched, []string{"bz1"}) || len(outcome.Failed) != 0 {
		t.Errorf("Expected bz1 patched with a published image, got %+v", outcome)
	}
	images := table.Get("bz1").Images
	if len(images) != 1 || !strings.HasPrefix(images[0], "https://drive.google.com/uc?export=view&id=") {
		t.Errorf("Expected published image URL, got %v", images)
	}
	if composer.calls["bz1"] != 2 {
		t.Errorf("Expected images rebuilt once more, got %d compose calls", composer.calls["bz1"])
	}

	outcome = r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)
	if outcome.Changed() || !slices.Equal(outcome.Skipped, []string{"bz1"}) {
		t.Errorf("Expected published record to be skipped, got %+v", outcome)
	}
}

func TestReconciler_Resync(t *testing.T) {
	cfg := testFeedConfig()
	cfg.Table.ResyncColumns = []string{"Price"}
	r := NewReconciler(cfg, newFakeComposer(t), nil)

	record := testRecord("bz1", "https://img/1")
	record.Fields.Set("Price", "90")
	table := NewTable(nil)
	table.Append(record)

	outcome := r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)
	if !slices.Equal(outcome.Resynced, []string{"bz1"}) {
		t.Errorf("Expected bz1 resynced, got %v", outcome.Resynced)
	}
	if got := table.Get("bz1").Fields.Get("Price"); got != "100" {
		t.Errorf("Expected price 100, got %s", got)
	}

	outcome = r.Run(context.Background(), []feed.Item{testItem("bz1")}, table)
	if outcome.Changed() {
		t.Errorf("Expected no change once values match, got %+v", outcome)
	}
}

func TestReconciler_ImageCap(t *testing.T) {
	r := NewReconciler(testFeedConfig(), newFakeComposer(t), nil)
	table := NewTable(nil)

	var urls []string
	for i := 0; i < 14; i++ {
		urls = append(urls, fmt.Sprintf("https://example.com/%d.jpg", i))
	}
	r.Run(context.Background(), []feed.Item{testItem("bz1", urls...)}, table)

	for _, record := range table.Records {
		if len(record.Images) > MaxImages {
			t.Errorf("Expected at most %d images, got %d", MaxImages, len(record.Images))
		}
	}
}
