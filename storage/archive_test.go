package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/reflex/types"
)

func sampleEntry() *Entry {
	var ctxHash [32]byte
	for i := range ctxHash {
		ctxHash[i] = byte(i)
	}
	return &Entry{
		TenantID:    "tenant-a",
		ContextHash: ctxHash,
		Timestamp:   time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC).Unix(),
		Embedding:   []byte{0x00, 0x3c, 0x00, 0xb8}, // f16: 1.0, -0.5
		Payload:     []byte(`{"query":"q","response":{}}`),
	}
}

func TestEncodeDecodeEntry_Roundtrip(t *testing.T) {
	entry := sampleEntry()

	raw, err := EncodeEntry(entry)
	require.NoError(t, err)

	// 信封头: 魔数 'R' 'X' + 版本
	require.GreaterOrEqual(t, len(raw), 3)
	assert.Equal(t, byte(0x52), raw[0])
	assert.Equal(t, byte(0x58), raw[1])
	assert.Equal(t, byte(0x01), raw[2])

	decoded, err := DecodeEntry(raw)
	require.NoError(t, err)
	assert.Equal(t, entry, decoded)
}

func TestEncodeEntry_RejectsOddEmbedding(t *testing.T) {
	entry := sampleEntry()
	entry.Embedding = []byte{0x01}

	_, err := EncodeEntry(entry)
	assert.Error(t, err)
}

func TestDecodeEntry_BadMagic(t *testing.T) {
	raw, err := EncodeEntry(sampleEntry())
	require.NoError(t, err)

	raw[0] = 0xFF
	_, err = DecodeEntry(raw)
	require.Error(t, err)
	assert.Equal(t, types.ErrStorageCorrupt, types.GetErrorCode(err))
}

func TestDecodeEntry_UnsupportedVersion(t *testing.T) {
	raw, err := EncodeEntry(sampleEntry())
	require.NoError(t, err)

	raw[2] = 0x7f
	_, err = DecodeEntry(raw)
	require.Error(t, err)
	assert.Equal(t, types.ErrStorageCorrupt, types.GetErrorCode(err))
}

func TestDecodeEntry_Truncated(t *testing.T) {
	raw, err := EncodeEntry(sampleEntry())
	require.NoError(t, err)

	// 任意截断都必须报告损坏,绝不 panic
	for cut := 0; cut < len(raw); cut++ {
		_, err := DecodeEntry(raw[:cut])
		require.Error(t, err, "truncated at %d", cut)
		assert.Equal(t, types.ErrStorageCorrupt, types.GetErrorCode(err))
	}
}

func TestDecodeEntry_LengthPrefixOverrun(t *testing.T) {
	raw, err := EncodeEntry(sampleEntry())
	require.NoError(t, err)

	// 把租户长度改成远超文件长度的值
	raw[3] = 0xFF
	raw[4] = 0xFF
	raw[5] = 0xFF
	raw[6] = 0x7F

	_, err = DecodeEntry(raw)
	require.Error(t, err)
	assert.Equal(t, types.ErrStorageCorrupt, types.GetErrorCode(err))
}

func TestEncodeDecodeEntry_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		embPairs := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "emb")
		if len(embPairs)%2 != 0 {
			embPairs = embPairs[:len(embPairs)-1]
		}

		entry := &Entry{
			TenantID:  rapid.StringN(0, 32, 32).Draw(t, "tenant"),
			Timestamp: rapid.Int64().Draw(t, "ts"),
			Embedding: embPairs,
			Payload:   rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "payload"),
		}
		copy(entry.ContextHash[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "ctx"))

		raw, err := EncodeEntry(entry)
		require.NoError(t, err)

		decoded, err := DecodeEntry(raw)
		require.NoError(t, err)
		assert.Equal(t, entry.TenantID, decoded.TenantID)
		assert.Equal(t, entry.ContextHash, decoded.ContextHash)
		assert.Equal(t, entry.Timestamp, decoded.Timestamp)
		assert.Equal(t, entry.Embedding, decoded.Embedding)
		assert.Equal(t, entry.Payload, decoded.Payload)
	})
}
