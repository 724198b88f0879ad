package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decode wraps the response body with the decompressor its
// Content-Encoding asks for.
func (m *ManagerCtx) decode(resp *http.Response) (io.Reader, error) {
	encoding := resp.Header.Get(HeaderContentEncoding)

	switch strings.ToLower(encoding) {
	case "", "identity":
		return resp.Body, nil
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return reader, nil
	case EncodingDeflate:
		return flate.NewReader(resp.Body), nil
	case EncodingBrotli:
		return brotli.NewReader(resp.Body), nil
	default:
		m.logger.Debug().Str("encoding", encoding).Msg("unknown content encoding, returning raw body")
		return resp.Body, nil
	}
}

// readLimited reads the whole body, failing when it grows beyond limit bytes
// after decompression.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}

	return data, nil
}
