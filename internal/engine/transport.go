package engine

import (
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Decompression reader pools. Readers are reset against an empty source
// before going back so they drop references to the finished body.
var (
	gzipReaders = sync.Pool{
		New: func() interface{} { return new(gzip.Reader) },
	}
	brotliReaders = sync.Pool{
		New: func() interface{} { return brotli.NewReader(nil) },
	}
	emptySource = strings.NewReader("")
)

// decodingTransport negotiates compression on outgoing requests and
// transparently unwraps the response body. Supports brotli, gzip and both
// zlib-wrapped and raw deflate.
type decodingTransport struct {
	next http.RoundTripper
}

func newDecodingTransport(next http.RoundTripper) *decodingTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &decodingTransport{next: next}
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("response decompression: %w", err)
	}
	return resp, nil
}

// decodeResponse replaces resp.Body with a decompressing reader according to
// Content-Encoding, applying layered encodings in reverse order. On success
// the encoding headers are dropped and the length marked unknown.
func decodeResponse(resp *http.Response) error {
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
		var release func()

		switch encoding {
		case "gzip":
			zr := gzipReaders.Get().(*gzip.Reader)
			if err := zr.Reset(resp.Body); err != nil {
				gzipReaders.Put(zr)
				return fmt.Errorf("gzip init: %w", err)
			}
			reader = zr
			release = func() {
				_ = zr.Reset(emptySource)
				gzipReaders.Put(zr)
			}

		case "br":
			br := brotliReaders.Get().(*brotli.Reader)
			if err := br.Reset(resp.Body); err != nil {
				brotliReaders.Put(br)
				return fmt.Errorf("brotli init: %w", err)
			}
			reader = io.NopCloser(br)
			release = func() {
				_ = br.Reset(emptySource)
				brotliReaders.Put(br)
			}

		case "deflate":
			r, err := inflate(resp.Body)
			if err != nil {
				return fmt.Errorf("deflate init: %w", err)
			}
			reader = r

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		resp.Body = &decodedBody{ReadCloser: reader, wrapped: resp.Body, release: release}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// decodedBody closes both the decoder and the wire body, and returns pooled
// readers exactly once.
type decodedBody struct {
	io.ReadCloser
	wrapped io.ReadCloser
	release func()
}

func (b *decodedBody) Close() error {
	if b.release != nil {
		b.release()
		b.release = nil
	}
	return errors.Join(b.ReadCloser.Close(), b.wrapped.Close())
}

// inflate decodes as zlib first and falls back to raw deflate, replaying the
// bytes consumed by the failed zlib header probe.
func inflate(r io.Reader) (io.ReadCloser, error) {
	probe := newReplayReader(r)
	if zr, err := zlib.NewReader(probe); err == nil {
		return zr, nil
	}
	probe.Rewind()
	return flate.NewReader(probe), nil
}

type replayReader struct {
	r      io.Reader
	buf    strings.Builder
	source io.Reader
}

func newReplayReader(r io.Reader) *replayReader {
	rr := &replayReader{source: r}
	rr.r = io.TeeReader(r, &rr.buf)
	return rr
}

func (rr *replayReader) Read(p []byte) (int, error) { return rr.r.Read(p) }

// Rewind makes the bytes already consumed readable again ahead of the
// remaining source.
func (rr *replayReader) Rewind() {
	rr.r = io.MultiReader(strings.NewReader(rr.buf.String()), rr.source)
}
