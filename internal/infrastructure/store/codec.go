package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// EncodeAll and DecodeAll are safe for concurrent use, so one of each is
// shared by every SQL store.
var (
	chunkEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	chunkDecoder, _ = zstd.NewReader(nil)
)

func compressChunk(raw []byte) []byte {
	return chunkEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompressChunk(data []byte, rawSize int) ([]byte, error) {
	out, err := chunkDecoder.DecodeAll(data, make([]byte, 0, rawSize))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress transcript chunk: %w", err)
	}
	return out, nil
}
