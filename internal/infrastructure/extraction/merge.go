package extraction

import (
	"reflect"
	"slices"
	"strings"
)

// mergeWindow folds one window's fields into dst. Earlier windows win for
// scalars, lists are concatenated without exact repeats and objects merge
// key by key.
func mergeWindow(dst, src map[string]any) {
	for key, value := range src {
		existing, ok := dst[key]
		if !ok || isEmptyValue(existing) {
			dst[key] = value
			continue
		}
		switch cur := existing.(type) {
		case []any:
			if more, ok := value.([]any); ok {
				dst[key] = appendUnique(cur, more)
			}
		case map[string]any:
			if more, ok := value.(map[string]any); ok {
				mergeWindow(cur, more)
			}
		}
	}
}

func appendUnique(dst, src []any) []any {
	for _, item := range src {
		if !slices.ContainsFunc(dst, func(have any) bool { return reflect.DeepEqual(have, item) }) {
			dst = append(dst, item)
		}
	}
	return dst
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}
