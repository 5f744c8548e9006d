package assets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKnownAssets(t *testing.T) {
	r := NewResolver()

	btc, err := r.Resolve("BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", btc.Identifier())
	assert.Equal(t, "Bitcoin", btc.Name())
	assert.True(t, btc.IsCrypto())
	assert.False(t, btc.IsFiat())

	eur, err := r.Resolve("eur")
	require.NoError(t, err)
	assert.Equal(t, "EUR", eur.Identifier())
	assert.True(t, eur.IsFiat())
}

func TestResolveUnknownAndUnsupported(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve("NOPE")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = r.Resolve("")
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = r.Resolve("KFEE")
	assert.ErrorIs(t, err, ErrUnsupportedAsset)
}

func TestResolveFromExchangeRemapsSymbols(t *testing.T) {
	r := NewResolver()

	xlm, err := r.ResolveFromExchange("poloniex", "STR")
	require.NoError(t, err)
	assert.Equal(t, "XLM", xlm.Identifier())

	// Symbols without a remap entry pass through unchanged.
	btc, err := r.ResolveFromExchange("poloniex", "BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", btc.Identifier())

	xbt, err := r.ResolveFromExchange("kraken", "XXBT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", xbt.Identifier())
}

func TestResolverWithExtraRegistry(t *testing.T) {
	r := NewResolverWithRegistry(map[string]bool{"ABC": false})

	abc, err := r.Resolve("ABC")
	require.NoError(t, err)
	assert.Equal(t, "ABC", abc.Identifier())
	assert.True(t, abc.IsCrypto())

	// The default universe is still present.
	_, err = r.Resolve("ETH")
	assert.NoError(t, err)
}

func TestAssetOrdering(t *testing.T) {
	r := NewResolver()
	btc, _ := r.Resolve("BTC")
	eth, _ := r.Resolve("ETH")

	assert.True(t, btc.Less(eth))
	assert.False(t, eth.Less(btc))
	assert.False(t, btc.Less(btc))
}
