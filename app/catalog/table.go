package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/lysyi3m/listing-comb/app/feed"
)

// MaxImages caps the image sequence of a single record.
const MaxImages = 10

var ErrMissingColumn = errors.New("catalog is missing required columns")

// Record is one persisted catalog row.
type Record struct {
	ID     string
	Fields *feed.Fields
	Images []string
}

// HasImages reports whether the record holds at least one usable image URL.
func (r *Record) HasImages() bool {
	for _, image := range r.Images {
		if strings.TrimSpace(image) != "" {
			return true
		}
	}
	return false
}

// HasLocalImages reports whether any image is still a local file path
// rather than a published URL.
func (r *Record) HasLocalImages() bool {
	for _, image := range r.Images {
		image = strings.TrimSpace(image)
		if image != "" && !isRemoteImage(image) {
			return true
		}
	}
	return false
}

func isRemoteImage(image string) bool {
	return strings.HasPrefix(image, "https://") || strings.HasPrefix(image, "http://")
}

type Table struct {
	Columns []string
	Records []*Record

	index map[string]*Record
}

func NewTable(columns []string) *Table {
	return &Table{
		Columns: slices.Clone(columns),
		index:   make(map[string]*Record),
	}
}

func (t *Table) Len() int {
	return len(t.Records)
}

func (t *Table) Get(id string) *Record {
	if t.index == nil {
		t.reindex()
	}
	return t.index[id]
}

func (t *Table) IDs() []string {
	ids := make([]string, len(t.Records))
	for i, record := range t.Records {
		ids[i] = record.ID
	}
	return ids
}

func (t *Table) Append(record *Record) error {
	if record.ID == "" {
		return fmt.Errorf("record has no %s", feed.IDField)
	}
	if t.Get(record.ID) != nil {
		return fmt.Errorf("duplicate record %s", record.ID)
	}
	if record.Fields == nil {
		record.Fields = feed.NewFields()
	}
	t.Records = append(t.Records, record)
	t.index[record.ID] = record
	return nil
}

func (t *Table) Remove(id string) bool {
	if t.Get(id) == nil {
		return false
	}
	delete(t.index, id)
	t.Records = slices.DeleteFunc(t.Records, func(r *Record) bool {
		return r.ID == id
	})
	return true
}

// EnsureColumns adds the columns the table does not have yet. New columns go
// before the image column so that it stays last.
func (t *Table) EnsureColumns(columns []string) {
	for _, column := range columns {
		if column == "" || column == feed.ImagesElement || slices.Contains(t.Columns, column) {
			continue
		}
		at := slices.Index(t.Columns, feed.ImageURLsColumn)
		if at < 0 || column == feed.ImageURLsColumn {
			t.Columns = append(t.Columns, column)
			continue
		}
		t.Columns = slices.Insert(t.Columns, at, column)
	}
}

func (t *Table) Validate(required []string) error {
	var missing []string
	for _, column := range required {
		if !slices.Contains(t.Columns, column) {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	seen := make(map[string]bool, len(t.Records))
	for i, record := range t.Records {
		if record.ID == "" {
			return fmt.Errorf("catalog row %d has no %s", i+1, feed.IDField)
		}
		if seen[record.ID] {
			return fmt.Errorf("catalog has duplicate %s %s", feed.IDField, record.ID)
		}
		seen[record.ID] = true
	}

	return nil
}

// Listings converts the table into generator input.
func (t *Table) Listings() []feed.Listing {
	listings := make([]feed.Listing, 0, len(t.Records))
	for _, record := range t.Records {
		listings = append(listings, feed.Listing{
			Columns:   t.Columns,
			Fields:    record.Fields,
			ImageURLs: record.Images,
		})
	}
	return listings
}

func (t *Table) reindex() {
	t.index = make(map[string]*Record, len(t.Records))
	for _, record := range t.Records {
		t.index[record.ID] = record
	}
}
