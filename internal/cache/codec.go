package cache

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// zstdMagic 是 zstd 帧头；msgpack 编码的 Entry 以 map 头开始，两者不会冲突。
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// minCompressSize 以下的负载直接按原样写入。
const minCompressSize = 128

func encodeEntry(entry Entry) ([]byte, error) {
	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return nil, fmt.Errorf("encode entry %s: %w", entry.Key, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := msgpack.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// compressor 包装 zstd 编解码器，disabled 时写入不压缩，但仍能读取已压缩的数据。
type compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

func newCompressor(level int, enabled bool) (*compressor, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	c := &compressor{decoder: decoder, enabled: enabled}
	if !enabled {
		return c, nil
	}

	encoderLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	}
	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		decoder.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	c.encoder = encoder
	return c, nil
}

func (c *compressor) compress(data []byte) []byte {
	if !c.enabled || len(data) < minCompressSize {
		return data
	}
	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data
	}
	return compressed
}

func (c *compressor) decompress(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress entry: %w", err)
	}
	return out, nil
}

func (c *compressor) close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}
