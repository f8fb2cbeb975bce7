package compress_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/h2rpc/grpcore/compress"
)

func TestRoundTripEachAlgorithm(t *testing.T) {
	registry := compress.DefaultRegistry()
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for compressibility: the quick brown fox jumps over the lazy dog")
	for _, id := range []compress.CompressionId{compress.Identity, compress.Gzip, compress.Deflate, compress.Snappy} {
		c, ok := registry.Get(id)
		require.True(t, ok, id)
		compressed, err := c.Compress(payload)
		require.NoError(t, err, id)
		decompressed, err := c.Decompress(compressed, 0)
		require.NoError(t, err, id)
		require.Equal(t, payload, decompressed, id)
	}
}

func TestDecompressEnforcesMaxBytes(t *testing.T) {
	registry := compress.DefaultRegistry()
	c, _ := registry.Get(compress.Gzip)
	payload := make([]byte, 4096)
	compressed, err := c.Compress(payload)
	require.NoError(t, err)
	_, err = c.Decompress(compressed, 10)
	require.Error(t, err)
}

func TestNoneAlwaysChoosesIdentity(t *testing.T) {
	registry := compress.DefaultRegistry()
	n := compress.None(registry)
	require.Equal(t, []compress.CompressionId{compress.Identity}, n.Offer)
	chosen, err := n.Choose([]compress.CompressionId{compress.Gzip, compress.Snappy})
	require.NoError(t, err)
	require.Equal(t, compress.Identity, chosen.ID)
}

func TestRequireFailsWithoutPeerSupport(t *testing.T) {
	registry := compress.DefaultRegistry()
	n := compress.Require(registry, compress.Gzip)
	_, err := n.Choose([]compress.CompressionId{compress.Snappy})
	require.Error(t, err)
	var negErr *compress.CompressionNegotationFailed
	require.ErrorAs(t, err, &negErr)

	chosen, err := n.Choose([]compress.CompressionId{compress.Gzip})
	require.NoError(t, err)
	require.Equal(t, compress.Gzip, chosen.ID)
}

func TestChooseFirstPrefersOurOrder(t *testing.T) {
	registry := compress.DefaultRegistry()
	n := compress.ChooseFirst(registry, []compress.CompressionId{compress.Snappy, compress.Gzip})
	chosen, err := n.Choose([]compress.CompressionId{compress.Gzip, compress.Snappy})
	require.NoError(t, err)
	require.Equal(t, compress.Snappy, chosen.ID)

	chosen, err = n.Choose([]compress.CompressionId{compress.Gzip})
	require.NoError(t, err)
	require.Equal(t, compress.Gzip, chosen.ID)

	chosen, err = n.Choose([]compress.CompressionId{compress.Deflate})
	require.NoError(t, err)
	require.Equal(t, compress.Identity, chosen.ID)
}

func TestParseOfferSplitsOnCommaAndSpace(t *testing.T) {
	ids := compress.ParseOffer("gzip, snappy,deflate")
	require.Equal(t, []compress.CompressionId{compress.Gzip, compress.Snappy, compress.Deflate}, ids)
}
