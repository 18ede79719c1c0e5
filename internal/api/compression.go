package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// maxDecodedBatchBytes bounds a decompressed import body.
const maxDecodedBatchBytes = 8 << 20

// decompressMiddleware decodes zstd request bodies. Requests without
// Content-Encoding pass through; other encodings are rejected with 415.
func decompressMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := strings.TrimSpace(r.Header.Get("Content-Encoding"))
			if encoding == "" || strings.EqualFold(encoding, "identity") {
				next.ServeHTTP(w, r)
				return
			}

			if !strings.EqualFold(encoding, "zstd") {
				respondError(w, http.StatusUnsupportedMediaType,
					"Unsupported Content-Encoding: "+encoding)
				return
			}

			decoder, err := zstd.NewReader(r.Body, zstd.WithDecoderMaxMemory(maxDecodedBatchBytes))
			if err != nil {
				respondError(w, http.StatusBadRequest, "Failed to create zstd decoder")
				return
			}
			defer decoder.Close()

			r.Body = http.MaxBytesReader(w, io.NopCloser(decoder), maxDecodedBatchBytes)
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1

			next.ServeHTTP(w, r)
		})
	}
}
