package aggregation

import (
	"reflect"
	"sort"
	"strings"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

type origin struct {
	documentID string
	date       domain.Date
}

type merger struct {
	fields     map[domain.DocumentCategory]map[string]any
	origins    map[string]origin
	superseded []domain.SupersededValue
}

// mergeExtractions deep-merges documents in order. Nested objects merge key
// by key; lists and scalars are replaced whole and the replaced value is kept
// as superseded.
func mergeExtractions(sources []source) domain.MergedExtraction {
	m := &merger{
		fields:  make(map[domain.DocumentCategory]map[string]any),
		origins: make(map[string]origin),
	}
	for _, src := range sources {
		if len(src.doc.ExtractedData) == 0 {
			continue
		}
		category := src.doc.Category
		if category == "" {
			category = domain.CategoryOther
		}
		target, ok := m.fields[category]
		if !ok {
			target = make(map[string]any)
			m.fields[category] = target
		}
		m.mergeInto(category, string(category), target, src.doc.ExtractedData, origin{documentID: src.doc.ID, date: src.date})
	}

	for i := range m.superseded {
		// The winner is whoever holds the path after every document merged.
		path := string(m.superseded[i].Category) + "." + m.superseded[i].Field
		m.superseded[i].WinnerID = m.holder(path).documentID
	}
	return domain.MergedExtraction{Fields: m.fields, Superseded: m.superseded}
}

func (m *merger) mergeInto(category domain.DocumentCategory, prefix string, dst map[string]any, src map[string]any, from origin) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := prefix + "." + key
		incoming := src[key]

		existing, present := dst[key]
		if !present {
			dst[key] = deepCopy(incoming)
			m.markOrigin(path, incoming, from)
			continue
		}

		existingMap, existingIsMap := asMap(existing)
		incomingMap, incomingIsMap := asMap(incoming)
		if existingIsMap && incomingIsMap {
			m.mergeInto(category, path, existingMap, incomingMap, from)
			continue
		}

		if reflect.DeepEqual(existing, incoming) {
			continue
		}
		prev := m.origins[path]
		m.superseded = append(m.superseded, domain.SupersededValue{
			Category:     category,
			Field:        path[len(category)+1:],
			Value:        existing,
			DocumentID:   prev.documentID,
			DocumentDate: prev.date,
		})
		dst[key] = deepCopy(incoming)
		m.clearOrigins(path)
		m.markOrigin(path, incoming, from)
	}
}

// holder returns the origin of path, or of its closest ancestor when a
// later document replaced the enclosing object whole.
func (m *merger) holder(path string) origin {
	for {
		if o, ok := m.origins[path]; ok {
			return o
		}
		i := strings.LastIndex(path, ".")
		if i < 0 {
			return origin{}
		}
		path = path[:i]
	}
}

// clearOrigins forgets every nested path under path once its value has been
// replaced whole.
func (m *merger) clearOrigins(path string) {
	prefix := path + "."
	for p := range m.origins {
		if strings.HasPrefix(p, prefix) {
			delete(m.origins, p)
		}
	}
}

// markOrigin records from as the holder of path and of every nested path.
func (m *merger) markOrigin(path string, v any, from origin) {
	m.origins[path] = from
	if inner, ok := asMap(v); ok {
		for k, child := range inner {
			m.markOrigin(path+"."+k, child, from)
		}
	}
}
