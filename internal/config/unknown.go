package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions.
const maxLevenshteinDistance = 3

// knownKeys holds every valid dotted key path, derived from the toml tags
// of Config. Array-of-table paths carry no index ("store.collections.name").
var knownKeys = func() map[string]bool {
	keys := make(map[string]bool)
	collectKeys(reflect.TypeFor[Config](), "", keys)

	return keys
}()

func collectKeys(t reflect.Type, prefix string, out map[string]bool) {
	for i := range t.NumField() {
		f := t.Field(i)

		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			continue
		}

		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		out[path] = true

		ft := f.Type
		if ft.Kind() == reflect.Slice {
			ft = ft.Elem()
		}

		if ft.Kind() == reflect.Struct {
			collectKeys(ft, path, out)
		}
	}
}

// siblings returns the sorted leaf names of known keys under parent.
func siblings(parent string) []string {
	var out []string

	for k := range knownKeys {
		p, leaf := splitKey(k)
		if p == parent {
			out = append(out, leaf)
		}
	}

	slices.Sort(out)

	return out
}

func splitKey(key string) (parent, leaf string) {
	i := strings.LastIndex(key, ".")
	if i < 0 {
		return "", key
	}

	return key[:i], key[i+1:]
}

// checkUnknownKeys reports every undecoded key, suggesting the closest known
// sibling.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	reported := make(map[string]bool)

	for _, key := range md.Undecoded() {
		keyStr := key.String()

		// Report an unknown table once, not once per key inside it.
		if parent, _ := splitKey(keyStr); parent != "" && !knownKeys[parent] {
			if reported[parent] || hasUnknownAncestor(parent, reported) {
				continue
			}

			keyStr = firstUnknown(keyStr)
		}

		if reported[keyStr] {
			continue
		}

		reported[keyStr] = true
		errs = append(errs, unknownKeyError(keyStr))
	}

	return errors.Join(errs...)
}

// firstUnknown trims key to its shortest prefix that is not a known key.
func firstUnknown(key string) string {
	parts := strings.Split(key, ".")

	for i := 1; i <= len(parts); i++ {
		prefix := strings.Join(parts[:i], ".")
		if !knownKeys[prefix] {
			return prefix
		}
	}

	return key
}

func hasUnknownAncestor(key string, reported map[string]bool) bool {
	for parent, _ := splitKey(key); parent != ""; parent, _ = splitKey(parent) {
		if reported[parent] {
			return true
		}
	}

	return false
}

func unknownKeyError(key string) error {
	parent, leaf := splitKey(key)

	suggestion := closestMatch(leaf, siblings(parent))
	if suggestion == "" {
		return fmt.Errorf("unknown config key %q", key)
	}

	if parent != "" {
		suggestion = parent + "." + suggestion
	}

	return fmt.Errorf("unknown config key %q, did you mean %q?", key, suggestion)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
