package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"shopify", "square", "weather", "woocommerce"}, r.Names())

	for _, name := range []string{"shopify", "Shopify", " SQUARE ", "weather", "WooCommerce"} {
		s, err := r.Get(name)
		require.NoError(t, err, name)
		assert.Equal(t, normalizeName(name), s.Name())
	}
}

func TestRegistry_UnknownStrategy(t *testing.T) {
	r := DefaultRegistry()

	s, err := r.Get("amazon")
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
	assert.Contains(t, err.Error(), "amazon")

	_, err = r.Get("")
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

type fixedStrategy struct {
	*CommerceStrategy
	name string
}

func (f fixedStrategy) Name() string { return f.name }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(fixedStrategy{CommerceStrategy: NewShopifyStrategy(), name: "BigCommerce"}))
	require.Error(t, r.Register(fixedStrategy{CommerceStrategy: NewShopifyStrategy(), name: "bigcommerce"}), "duplicate names are rejected")
	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(fixedStrategy{CommerceStrategy: NewShopifyStrategy(), name: " "}))

	s, err := r.Get("bigcommerce")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, s.DetermineTTL(CommerceParams{Resource: "products"}))
}
