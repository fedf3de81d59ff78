package executor

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// decodeResponseBody wraps body with a decompressor matching contentEncoding.
// Unknown encodings are passed through unchanged. Closing the result closes body.
func decodeResponseBody(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	if body == nil {
		return nil, errors.New("response body is nil")
	}

	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("decode gzip body: %w", err)
		}
		return &decodedBody{Reader: gr, closers: []func() error{gr.Close, body.Close}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []func() error{body.Close}}, nil
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			_ = body.Close()
			return nil, fmt.Errorf("decode zstd body: %w", err)
		}
		return &decodedBody{Reader: dec, closers: []func() error{
			func() error { dec.Close(); return nil },
			body.Close,
		}}, nil
	default:
		return body, nil
	}
}

type decodedBody struct {
	io.Reader
	closers []func() error
}

func (d *decodedBody) Close() error {
	var firstErr error
	for _, c := range d.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
