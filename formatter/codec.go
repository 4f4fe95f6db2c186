package formatter

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsupportedCodec is returned for unknown codec names.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Codec compresses the content of a single object.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	// Extension is appended to the object name, e.g. ".gz".
	Extension() string
}

// GetCodec returns the codec with the given name.
func GetCodec(name string) (Codec, error) {
	switch name {
	case "gzip":
		return &GzipCodec{Level: gzip.DefaultCompression}, nil
	case "none":
		return noneCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, name)
	}
}

// GzipCodec produces gzip members readable by any gzip decoder.
type GzipCodec struct {
	Level int
}

// Compress compresses data using gzip.
func (c *GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Extension returns ".gz".
func (c *GzipCodec) Extension() string {
	return ".gz"
}

type noneCodec struct{}

func (noneCodec) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (noneCodec) Extension() string {
	return ""
}
