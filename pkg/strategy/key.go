package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
)

// KeyNamespace is the first segment of every strategy-built key.
const KeyNamespace = "api"

// volatileFilters never contribute to a key; they differ per request without
// changing the response.
var volatileFilters = map[string]bool{
	"_":          true,
	"timestamp":  true,
	"request_id": true,
	"cache_bust": true,
}

// escapeSegment keeps ':' and '*' out of caller-supplied segments so an ID
// cannot reach into another resource's key space.
func escapeSegment(s string) string {
	return url.QueryEscape(strings.TrimSpace(s))
}

func joinKey(segments ...string) string {
	return strings.Join(segments, ":")
}

func resourcePattern(source, resource string) string {
	return joinKey(KeyNamespace, source, resource, "*")
}

// normalizeFilters lowercases keys, trims values and drops empty or volatile
// entries. Keys that collide after lowercasing keep all their values, sorted.
func normalizeFilters(filters map[string]string) map[string][]string {
	out := make(map[string][]string, len(filters))
	for k, v := range filters {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" || volatileFilters[k] {
			continue
		}
		out[k] = append(out[k], v)
	}
	for _, values := range out {
		sort.Strings(values)
	}
	return out
}

// filterHash is the first 16 hex characters of the SHA-256 of the normalized
// filters encoded as JSON. encoding/json writes map keys sorted, which makes
// the encoding canonical.
func filterHash(filters map[string]string) string {
	data, err := json.Marshal(normalizeFilters(filters))
	if err != nil {
		// map[string][]string always marshals
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// readKey builds the key for a single-resource or filtered read under base.
func readKey(base []string, id string, filters map[string]string) string {
	segments := append([]string(nil), base...)
	if id = strings.TrimSpace(id); id != "" {
		segments = append(segments, escapeSegment(id))
		if len(normalizeFilters(filters)) == 0 {
			return joinKey(segments...)
		}
	}
	return joinKey(append(segments, "q", filterHash(filters))...)
}
