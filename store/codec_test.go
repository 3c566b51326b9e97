package store

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCompression(t *testing.T) {
	for name, want := range map[string]Compression{
		"":     CompressionNone,
		"none": CompressionNone,
		"s2":   CompressionS2,
		"zstd": CompressionZstd,
		"lz4":  CompressionLZ4,
	} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
		if name != "" {
			require.Equal(t, name, got.String())
		}
	}
	_, err := ParseCompression("snappy")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestCodec_RoundTrip(t *testing.T) {
	// repetitive payload that every codec can shrink
	payload := bytes.Repeat([]byte("axis-indexed columnar block "), 256)

	for _, comp := range []Compression{CompressionNone, CompressionS2, CompressionZstd, CompressionLZ4} {
		codec, err := newCodec(comp)
		require.NoError(t, err, comp.String())

		compressed, err := codec.Compress(payload)
		require.NoError(t, err, comp.String())
		if comp != CompressionNone {
			require.Less(t, len(compressed), len(payload), comp.String())
		}

		restored, err := codec.Decompress(compressed)
		require.NoError(t, err, comp.String())
		require.Equal(t, payload, restored, comp.String())
	}
}

func TestCodec_EmptyBlock(t *testing.T) {
	for _, comp := range []Compression{CompressionNone, CompressionS2, CompressionZstd, CompressionLZ4} {
		codec, err := newCodec(comp)
		require.NoError(t, err)
		out, err := codec.Compress(nil)
		require.NoError(t, err)
		require.Empty(t, out)
		out, err = codec.Decompress(nil)
		require.NoError(t, err)
		require.Empty(t, out)
	}
}

func TestFrameBlock_RawFallback(t *testing.T) {
	// incompressible payload must round-trip through the raw frame
	rng := rand.New(rand.NewSource(3))
	payload := make([]byte, 4096)
	rng.Read(payload)

	for _, comp := range []Compression{CompressionNone, CompressionS2, CompressionZstd, CompressionLZ4} {
		codec, err := newCodec(comp)
		require.NoError(t, err)

		framed, err := frameBlock(payload, codec)
		require.NoError(t, err, comp.String())
		restored, err := unframeBlock(framed, codec)
		require.NoError(t, err, comp.String())
		require.Equal(t, payload, restored, comp.String())
	}
}

func TestFrameBlock_CompressedFrame(t *testing.T) {
	payload := bytes.Repeat([]byte{7}, 8192)
	codec, err := newCodec(CompressionS2)
	require.NoError(t, err)

	framed, err := frameBlock(payload, codec)
	require.NoError(t, err)
	require.Equal(t, byte(1), framed[0])
	require.Less(t, len(framed), len(payload))

	restored, err := unframeBlock(framed, codec)
	require.NoError(t, err)
	require.Equal(t, payload, restored)
}

func TestUnframeBlock_Empty(t *testing.T) {
	codec, err := newCodec(CompressionNone)
	require.NoError(t, err)
	_, err = unframeBlock(nil, codec)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStringBlock_RoundTrip(t *testing.T) {
	values := []string{"lung", "", "a longer tissue label", "liver"}
	decoded, err := decodeStringBlock(encodeStringBlock(values))
	require.NoError(t, err)
	require.Equal(t, values, decoded)

	_, err = decodeStringBlock([]byte{})
	require.Error(t, err)
	// count promises more strings than the block holds
	_, err = decodeStringBlock([]byte{5, 200})
	require.Error(t, err)
}
