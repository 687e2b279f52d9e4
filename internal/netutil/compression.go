// File: internal/netutil/compression.go

// Package netutil provides HTTP transport middleware shared by the static
// fetch backend.
package netutil

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// CompressionMiddleware is an http.RoundTripper that transparently negotiates
// and decodes response compression. It advertises br, gzip and deflate on
// outgoing requests and unwraps the response body so downstream consumers
// always see plain bytes.
type CompressionMiddleware struct {
	// Transport is the underlying round tripper. If nil, http.DefaultTransport
	// is used.
	Transport http.RoundTripper
}

// NewCompressionMiddleware wraps the provided transport.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		// Brotli first; it generally compresses better.
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := decompressResponse(resp); err != nil {
		// The body stream may be partially consumed at this point; the
		// response is unusable.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to initialize response decompression: %w", err)
	}
	return resp, nil
}

// closeWrapper closes both the decoding reader and the original network body.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
}

func (w *closeWrapper) Close() error {
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	return errors.Join(err1, err2)
}

// decompressResponse wraps resp.Body with the decoders named by the
// Content-Encoding header, applied in reverse order for layered encodings.
// On success the encoding headers are stripped and resp.Uncompressed is set.
func decompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.ReadCloser
		switch encoding {
		case "gzip":
			zr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			reader = zr
		case "deflate":
			zr, err := tryDeflate(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate initialization error: %w", err)
			}
			reader = zr
		case "br":
			// brotli.Reader has no Close of its own.
			reader = io.NopCloser(brotli.NewReader(resp.Body))
		case "identity", "":
			continue
		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		resp.Body = &closeWrapper{ReadCloser: reader, originalBody: resp.Body}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// tryDeflate decodes zlib-wrapped deflate (RFC 1950) and falls back to raw
// deflate (RFC 1951) for servers that send it bare.
func tryDeflate(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	// A zlib stream starts with 0x78; anything else is treated as raw deflate.
	if len(peek) == 2 && peek[0] == 0x78 {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}
