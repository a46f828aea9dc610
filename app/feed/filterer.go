package feed

import (
	"fmt"
	"strings"
)

type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Accept reports whether a listing may be added to the catalog. The reason
// is empty for accepted items.
func (f *Filterer) Accept(item Item, feedConfig *Config) (bool, string) {
	for _, filter := range feedConfig.Filters {
		value := f.getFieldValue(item, filter.Field)

		if len(filter.Prefixes) > 0 {
			matched := false
			for _, prefix := range filter.Prefixes {
				if strings.HasPrefix(value, prefix) {
					matched = true
					break
				}
			}
			if !matched {
				return false, fmt.Sprintf("Excluded by %s filter: no prefix among %v", filter.Field, filter.Prefixes)
			}
		}

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return false, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return false, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return true, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getFieldValue(item Item, field string) string {
	switch field {
	case IDField:
		return item.ExternalID
	case DescriptionField:
		return item.Description
	default:
		return item.Fields.Get(field)
	}
}
