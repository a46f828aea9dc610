package catalog

import (
	"context"
	"log/slog"
	"slices"

	"github.com/lysyi3m/listing-comb/app/feed"
	"github.com/lysyi3m/listing-comb/app/media"
)

type Composer interface {
	Compose(ctx context.Context, rawURLs []string, itemID string) []media.Ref
}

type ImagePublisher interface {
	PublishImage(ctx context.Context, localPath string) (string, error)
}

// Outcome lists the external ids touched by one reconciliation.
type Outcome struct {
	Added    []string
	Patched  []string
	Removed  []string
	Skipped  []string
	Resynced []string
	Failed   []string
}

// Changed reports whether the catalog differs from what was loaded.
func (o Outcome) Changed() bool {
	return len(o.Added) > 0 || len(o.Patched) > 0 || len(o.Removed) > 0 || len(o.Resynced) > 0
}

type Reconciler struct {
	feedConfig *feed.Config
	filterer   *feed.Filterer
	rewriter   *feed.Rewriter
	composer   Composer
	publisher  ImagePublisher
}

// NewReconciler builds a reconciler for one profile. publisher may be nil, in
// which case records keep local image paths.
func NewReconciler(feedConfig *feed.Config, composer Composer, publisher ImagePublisher) *Reconciler {
	return &Reconciler{
		feedConfig: feedConfig,
		filterer:   feed.NewFilterer(),
		rewriter:   feed.NewRewriter(feedConfig.Description),
		composer:   composer,
		publisher:  publisher,
	}
}

// Run merges a feed snapshot into the table. Records gone from the feed are
// removed, records without images get their images rebuilt and accepted new
// items are appended up to the per-cycle cap. Image failures never abort the
// run; the affected record is left without images and retried next time.
func (r *Reconciler) Run(ctx context.Context, items []feed.Item, table *Table) Outcome {
	var outcome Outcome

	feedIDs := make(map[string]bool, len(items))
	for _, item := range items {
		feedIDs[item.ExternalID] = true
	}

	for _, id := range table.IDs() {
		if !feedIDs[id] {
			table.Remove(id)
			outcome.Removed = append(outcome.Removed, id)
		}
	}

	added := 0
	capLogged := false
	maxItems := r.feedConfig.Settings.MaxItems

	for _, item := range items {
		if ctx.Err() != nil {
			slog.Warn("Reconciliation interrupted", "profile", r.feedConfig.Name, "error", ctx.Err())
			break
		}

		if record := table.Get(item.ExternalID); record != nil {
			if r.resync(record, item) {
				outcome.Resynced = append(outcome.Resynced, item.ExternalID)
			}

			if !r.needsImages(record) {
				outcome.Skipped = append(outcome.Skipped, item.ExternalID)
				continue
			}

			images := r.images(ctx, item)
			if len(images) == 0 {
				outcome.Failed = append(outcome.Failed, item.ExternalID)
				continue
			}
			if slices.Equal(images, record.Images) {
				// same local fallback as before, nothing to write
				outcome.Failed = append(outcome.Failed, item.ExternalID)
				continue
			}
			record.Images = images
			outcome.Patched = append(outcome.Patched, item.ExternalID)
			if r.needsImages(record) {
				outcome.Failed = append(outcome.Failed, item.ExternalID)
			}
			slog.Info("Record images restored", "profile", r.feedConfig.Name, "id", item.ExternalID, "images", len(images))
			continue
		}

		if ok, reason := r.filterer.Accept(item, r.feedConfig); !ok {
			slog.Debug("Item filtered", "profile", r.feedConfig.Name, "id", item.ExternalID, "reason", reason)
			outcome.Skipped = append(outcome.Skipped, item.ExternalID)
			continue
		}

		if maxItems > 0 && added >= maxItems {
			if !capLogged {
				slog.Info("Per-cycle item limit reached", "profile", r.feedConfig.Name, "limit", maxItems)
				capLogged = true
			}
			outcome.Skipped = append(outcome.Skipped, item.ExternalID)
			continue
		}

		record := r.newRecord(ctx, item)
		if err := table.Append(record); err != nil {
			slog.Error("Failed to add record", "profile", r.feedConfig.Name, "id", item.ExternalID, "error", err)
			continue
		}
		added++
		outcome.Added = append(outcome.Added, item.ExternalID)
		if r.needsImages(record) {
			outcome.Failed = append(outcome.Failed, item.ExternalID)
		}
	}

	slog.Info("Catalog reconciled",
		"profile", r.feedConfig.Name,
		"added", len(outcome.Added),
		"patched", len(outcome.Patched),
		"removed", len(outcome.Removed),
		"resynced", len(outcome.Resynced),
		"skipped", len(outcome.Skipped),
		"failed", len(outcome.Failed),
		"records", table.Len())

	return outcome
}

func (r *Reconciler) newRecord(ctx context.Context, item feed.Item) *Record {
	fields := feed.NewFields()
	for _, key := range item.Fields.Keys() {
		if key == feed.ImagesElement {
			continue
		}
		fields.Set(key, r.value(item, key))
	}
	fields.Set(feed.IDField, item.ExternalID)
	if !fields.Has(feed.DescriptionField) && item.Description != "" {
		fields.Set(feed.DescriptionField, r.value(item, feed.DescriptionField))
	}
	for _, attr := range r.feedConfig.Table.CustomAttributes {
		fields.Set(attr.Name, attr.Value)
	}

	return &Record{
		ID:     item.ExternalID,
		Fields: fields,
		Images: r.images(ctx, item),
	}
}

// value is the stored form of a feed field.
func (r *Reconciler) value(item feed.Item, key string) string {
	if key == feed.DescriptionField {
		description := item.Description
		if description == "" {
			description = item.Fields.Get(key)
		}
		description = r.rewriter.Cleanup(description)
		description = r.rewriter.Run(description)
		return feed.StripCDATA(description)
	}
	return feed.StripCDATA(item.Fields.Get(key))
}

func (r *Reconciler) resync(record *Record, item feed.Item) bool {
	changed := false
	for _, column := range r.feedConfig.Table.ResyncColumns {
		if column == feed.IDField || column == feed.ImageURLsColumn || !item.Fields.Has(column) {
			continue
		}
		value := r.value(item, column)
		if record.Fields.Get(column) == value {
			continue
		}
		slog.Debug("Record field resynced", "profile", r.feedConfig.Name, "id", record.ID, "column", column)
		record.Fields.Set(column, value)
		changed = true
	}
	return changed
}

// needsImages reports whether a record has to go through image composition
// again. With a publisher configured, local fallback paths count as missing.
func (r *Reconciler) needsImages(record *Record) bool {
	if !record.HasImages() {
		return true
	}
	return r.publisher != nil && record.HasLocalImages()
}

// images composes and publishes the images of one item. Images that fail to
// publish keep their local path.
func (r *Reconciler) images(ctx context.Context, item feed.Item) []string {
	refs := r.composer.Compose(ctx, item.RawImageURLs, item.ExternalID)

	urls := make([]string, 0, len(refs))
	for _, ref := range refs {
		if len(urls) >= MaxImages {
			break
		}

		if !ref.IsLocal() {
			urls = append(urls, ref.URL())
			continue
		}

		if r.publisher == nil {
			urls = append(urls, ref.Path())
			continue
		}

		url, err := r.publisher.PublishImage(ctx, ref.Path())
		if err != nil {
			slog.Warn("Image not published, keeping local file", "profile", r.feedConfig.Name, "id", item.ExternalID, "path", ref.Path(), "error", err)
			url = ref.Path()
		}
		urls = append(urls, url)
	}

	return urls
}
