// File: internal/netutil/compression_test.go
package netutil_test

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/voyager/internal/netutil"
)

const payload = "The quick brown fox jumps over the lazy dog, repeatedly and at length."

func fetchThroughMiddleware(t *testing.T, srv *httptest.Server) *http.Response {
	t.Helper()
	client := &http.Client{Transport: netutil.NewCompressionMiddleware(nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestCompressionMiddleware_AdvertisesEncodings(t *testing.T) {
	var accepted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accepted = r.Header.Get("Accept-Encoding")
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	resp := fetchThroughMiddleware(t, srv)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, "br, gzip, deflate, identity", accepted)
	assert.Equal(t, payload, string(body))
}

func TestCompressionMiddleware_DecodesGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = io.WriteString(zw, payload)
		_ = zw.Close()
	}))
	defer srv.Close()

	resp := fetchThroughMiddleware(t, srv)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, payload, string(body))
	assert.Empty(t, resp.Header.Get("Content-Encoding"), "encoding header is stripped after decode")
	assert.True(t, resp.Uncompressed)
}

func TestCompressionMiddleware_DecodesBrotli(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_, _ = io.WriteString(bw, payload)
		_ = bw.Close()
	}))
	defer srv.Close()

	resp := fetchThroughMiddleware(t, srv)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestCompressionMiddleware_DecodesZlibDeflate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "deflate")
		zw := zlib.NewWriter(w)
		_, _ = io.WriteString(zw, payload)
		_ = zw.Close()
	}))
	defer srv.Close()

	resp := fetchThroughMiddleware(t, srv)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestCompressionMiddleware_DecodesRawDeflate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "deflate")
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		_, _ = io.WriteString(fw, payload)
		_ = fw.Close()
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	resp := fetchThroughMiddleware(t, srv)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body), "bare RFC 1951 streams must decode too")
}

func TestCompressionMiddleware_UnsupportedEncodingFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "zstd")
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	client := &http.Client{Transport: netutil.NewCompressionMiddleware(nil)}
	resp, err := client.Get(srv.URL)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported Content-Encoding")
}
