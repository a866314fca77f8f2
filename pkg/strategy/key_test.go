package strategy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterHash_Stable(t *testing.T) {
	a := map[string]string{"Status": "open ", "limit": "50", "timestamp": "1700000000"}
	b := map[string]string{"limit": "50", "status": "open", "cache_bust": "x", "empty": ""}

	assert.Equal(t, filterHash(a), filterHash(b))
	assert.Len(t, filterHash(a), 16)
}

func TestFilterHash_Distinct(t *testing.T) {
	base := filterHash(map[string]string{"status": "open"})

	assert.NotEqual(t, base, filterHash(map[string]string{"status": "closed"}))
	assert.NotEqual(t, base, filterHash(map[string]string{"state": "open"}))
	assert.NotEqual(t, base, filterHash(map[string]string{"status": "open", "limit": "10"}))
	// Values that would concatenate to the same text must still differ
	assert.NotEqual(t,
		filterHash(map[string]string{"a": "b,c"}),
		filterHash(map[string]string{"a": "b", "A": "c"}),
	)
}

func TestFilterHash_CaseCollisionDeterministic(t *testing.T) {
	filters := map[string]string{"Status": "open", "status": "paid"}
	first := filterHash(filters)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, filterHash(filters))
	}
}

func TestReadKey(t *testing.T) {
	base := []string{"api", "shop", "orders"}

	assert.Equal(t, "api:shop:orders:42", readKey(base, "42", nil))
	assert.Equal(t, "api:shop:orders:42", readKey(base, " 42 ", map[string]string{"_": "1"}))

	listKey := readKey(base, "", nil)
	assert.True(t, strings.HasPrefix(listKey, "api:shop:orders:q:"))

	withFilters := readKey(base, "42", map[string]string{"fields": "id"})
	assert.True(t, strings.HasPrefix(withFilters, "api:shop:orders:42:q:"))
}

func TestEscapeSegment(t *testing.T) {
	assert.Equal(t, "a%3Ab", escapeSegment("a:b"))
	assert.Equal(t, "%2A", escapeSegment("*"))
	assert.NotContains(t, escapeSegment("x:*:y"), ":")
	assert.NotContains(t, escapeSegment("x:*:y"), "*")
}
