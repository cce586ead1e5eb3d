// Package compression implements transparent zstd compression for stored
// assets. Inputs that are small or incompressible pass through unchanged;
// Decode distinguishes the two by the zstd frame header.
package compression

import (
	"github.com/klauspost/compress/zstd"
)

// minSize is the smallest input worth compressing.
const minSize = 128

// Codec compresses and decompresses asset bytes.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates a codec for the given level (1 = fastest, 2 = default,
// 3 = better). A non-positive level disables compression entirely.
func New(level int) (*Codec, error) {
	if level <= 0 {
		return &Codec{}, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	default:
		encoderLevel = zstd.SpeedBetterCompression
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}

	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Encode compresses data when it pays off, otherwise returns data unchanged.
func (c *Codec) Encode(data []byte) []byte {
	if c.encoder == nil || len(data) < minSize {
		return data
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) {
		return data
	}
	return compressed
}

// Decode reverses Encode. Data that is not a zstd frame is returned as-is.
func (c *Codec) Decode(data []byte) []byte {
	if c.decoder == nil {
		return data
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return data
	}
	return decompressed
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
