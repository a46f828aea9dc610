package feed

import "strings"

const (
	IDField          = "Id"
	DescriptionField = "Description"
	ImagesElement    = "Images"
	ImageElement     = "Image"
	ImageURLsColumn  = "ImageUrls"
)

var DefaultStandardColumns = []string{
	"Id", "AdType", "Category", "Address", "ContactPhone", "GoodsType", "ProductType",
	"SparePartType", "Title", "Description", "Price", "Availability", "Condition", "Brand",
	"OEM", "TechnicSparePartType", "TransmissionSparePartType", "EngineSparePartType",
}

// Fields is a string map that remembers insertion order.
type Fields struct {
	keys   []string
	values map[string]string
}

func NewFields() *Fields {
	return &Fields{values: make(map[string]string)}
}

func (f *Fields) Set(key, value string) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

func (f *Fields) Get(key string) string {
	if f == nil {
		return ""
	}
	return f.values[key]
}

func (f *Fields) Has(key string) bool {
	if f == nil {
		return false
	}
	_, ok := f.values[key]
	return ok
}

func (f *Fields) Delete(key string) {
	if !f.Has(key) {
		return
	}
	delete(f.values, key)
	for i, k := range f.keys {
		if k == key {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}
}

func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	keys := make([]string, len(f.keys))
	copy(keys, f.keys)
	return keys
}

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

func (f *Fields) Clone() *Fields {
	clone := NewFields()
	for _, k := range f.Keys() {
		clone.Set(k, f.values[k])
	}
	return clone
}

// Columns builds the catalog column list for a feed snapshot: standard
// columns, then field tags in first-seen order, then custom attributes and
// the composed image column. The raw images element never becomes a column.
func Columns(items []Item, standard []string, custom []Attribute) []string {
	seen := make(map[string]bool)
	var columns []string
	add := func(name string) {
		if name == "" || name == ImagesElement || seen[name] {
			return
		}
		seen[name] = true
		columns = append(columns, name)
	}

	for _, name := range standard {
		add(name)
	}
	for _, item := range items {
		for _, name := range item.Fields.Keys() {
			add(name)
		}
	}
	for _, attr := range custom {
		add(attr.Name)
	}
	add(ImageURLsColumn)

	return columns
}

// StripCDATA removes character-data delimiters from a stored value.
func StripCDATA(value string) string {
	start := strings.Index(value, cdataOpen)
	if start < 0 {
		return value
	}
	end := strings.LastIndex(value, cdataClose)
	if end < start {
		return value
	}
	return value[:start] + value[start+len(cdataOpen):end] + value[end+len(cdataClose):]
}
