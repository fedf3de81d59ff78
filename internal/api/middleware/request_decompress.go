package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// maxDecompressedBytes caps a decoded request body.
const maxDecompressedBytes = 128 << 20 // 128MiB

// RequestDecompressionMiddleware transparently decodes request bodies sent with
// Content-Encoding gzip, br or zstd. net/http leaves request bodies encoded,
// so JSON handlers would otherwise see compressed bytes.
func RequestDecompressionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" {
			c.Next()
			return
		}

		reader, closeFn, err := requestDecoder(enc, c.Request.Body)
		if err != nil {
			abortInvalidBody(c, http.StatusBadRequest, "invalid "+enc+" request body")
			return
		}
		if reader == nil {
			c.Next()
			return
		}
		defer closeFn()

		decoded, err := io.ReadAll(io.LimitReader(reader, maxDecompressedBytes+1))
		if err != nil {
			abortInvalidBody(c, http.StatusBadRequest, "failed to decompress "+enc+" request body")
			return
		}
		if int64(len(decoded)) > maxDecompressedBytes {
			abortInvalidBody(c, http.StatusRequestEntityTooLarge, "decompressed request body too large")
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Next()
	}
}

// requestDecoder returns a nil reader for encodings it does not handle.
func requestDecoder(enc string, body io.Reader) (io.Reader, func(), error) {
	switch {
	case strings.Contains(enc, "gzip"):
		gzr, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, err
		}
		return gzr, func() { _ = gzr.Close() }, nil
	case enc == "br":
		return brotli.NewReader(body), func() {}, nil
	case enc == "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			return nil, nil, err
		}
		return dec, dec.Close, nil
	default:
		return nil, nil, nil
	}
}

func abortInvalidBody(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "invalid_request_error",
		},
	})
}
