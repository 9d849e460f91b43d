// Package storage 提供缓存条目的持久化归档存储.
//
// 每个条目落盘为 {root}/{tenant}/{id}.archive,二进制信封为
// 2 字节魔数 + 1 字节模式版本 + 定长/变长字段.写入走临时文件
// fsync 后原子重命名;读取基于 mmap 零拷贝,校验失败的文件会被
// 重命名为 .corrupt 隔离.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/BaSui01/reflex/types"
)

// Archive envelope constants.
const (
	magicByte0    = 0x52 // 'R'
	magicByte1    = 0x58 // 'X'
	schemaVersion = 0x01

	headerLen = 3

	// contextHashLen 为 BLAKE3 摘要长度.
	contextHashLen = 32
)

// Entry 是归档存储中的一条缓存记录.
type Entry struct {
	TenantID    string
	ContextHash [32]byte
	Timestamp   int64
	// Embedding 为 f16 小端字节,长度必须为偶数.
	Embedding []byte
	// Payload 为网关写入的不透明负载(语义请求快照 + 响应体).
	Payload []byte
}

// EncodeEntry serializes an entry into the archive envelope.
func EncodeEntry(e *Entry) ([]byte, error) {
	if len(e.Embedding)%2 != 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "embedding bytes must be f16 pairs")
	}

	size := headerLen + 4 + len(e.TenantID) + contextHashLen + 8 + 4 + len(e.Embedding) + 4 + len(e.Payload)
	buf := make([]byte, 0, size)

	buf = append(buf, magicByte0, magicByte1, schemaVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.TenantID)))
	buf = append(buf, e.TenantID...)
	buf = append(buf, e.ContextHash[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Embedding)))
	buf = append(buf, e.Embedding...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Payload)))
	buf = append(buf, e.Payload...)

	return buf, nil
}

// DecodeEntry parses the archive envelope. Any structural violation is
// reported as a corruption error; the caller decides whether to quarantine.
func DecodeEntry(data []byte) (*Entry, error) {
	if len(data) < headerLen+4 {
		return nil, corruptf("archive too short: %d bytes", len(data))
	}
	if data[0] != magicByte0 || data[1] != magicByte1 {
		return nil, corruptf("bad magic: 0x%02x%02x", data[0], data[1])
	}
	if data[2] != schemaVersion {
		return nil, corruptf("unsupported schema version: %d", data[2])
	}

	off := headerLen

	tenantLen, off, err := readLen(data, off)
	if err != nil {
		return nil, err
	}
	if off+tenantLen > len(data) {
		return nil, corruptf("tenant field overruns archive")
	}
	tenant := string(data[off : off+tenantLen])
	off += tenantLen

	if off+contextHashLen > len(data) {
		return nil, corruptf("context hash field overruns archive")
	}
	var ctxHash [32]byte
	copy(ctxHash[:], data[off:off+contextHashLen])
	off += contextHashLen

	if off+8 > len(data) {
		return nil, corruptf("timestamp field overruns archive")
	}
	ts := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8

	embLen, off, err := readLen(data, off)
	if err != nil {
		return nil, err
	}
	if embLen%2 != 0 {
		return nil, corruptf("embedding bytes not f16 aligned: %d", embLen)
	}
	if off+embLen > len(data) {
		return nil, corruptf("embedding field overruns archive")
	}
	embedding := make([]byte, embLen)
	copy(embedding, data[off:off+embLen])
	off += embLen

	payloadLen, off, err := readLen(data, off)
	if err != nil {
		return nil, err
	}
	if off+payloadLen > len(data) {
		return nil, corruptf("payload field overruns archive")
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[off:off+payloadLen])

	return &Entry{
		TenantID:    tenant,
		ContextHash: ctxHash,
		Timestamp:   ts,
		Embedding:   embedding,
		Payload:     payload,
	}, nil
}

func readLen(data []byte, off int) (int, int, error) {
	if off+4 > len(data) {
		return 0, 0, corruptf("length prefix overruns archive")
	}
	n := int(binary.LittleEndian.Uint32(data[off : off+4]))
	return n, off + 4, nil
}

func corruptf(format string, args ...any) *types.Error {
	return types.NewError(types.ErrStorageCorrupt, fmt.Sprintf(format, args...))
}
