// Package codec compresses blobs and patches with zstd.
package codec

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	initOnce sync.Once
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
	initErr  error
)

// EncodeAll and DecodeAll are safe for concurrent use, so a single pair
// serves every caller.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	initOnce.Do(func() {
		encoder, initErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedDefault),
			zstd.WithZeroFrames(true),
		)
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return encoder, decoder, initErr
}

// Compress returns the zstd frame for data.
func Compress(data []byte) ([]byte, error) {
	enc, _, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd: %w", err)
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2+64)), nil
}

// Decompress reverses Compress. The result is never nil, so an empty blob
// still reads back as an existing (zero-length) file.
func Decompress(data []byte) ([]byte, error) {
	_, dec, err := codecs()
	if err != nil {
		return nil, fmt.Errorf("failed to init zstd: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// NewWriter returns a streaming zstd writer over w. The caller must Close it.
func NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithZeroFrames(true))
}
