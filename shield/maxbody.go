package shield

import "net/http"

// MaxBody returns middleware that caps request bodies at maxBytes. Reads
// past the cap fail with *http.MaxBytesError. When tooLarge is non-nil, a
// request whose declared Content-Length already exceeds the cap is handed
// to it without reading the body.
func MaxBody(maxBytes int64, tooLarge http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tooLarge != nil && r.ContentLength > maxBytes {
				tooLarge.ServeHTTP(w, r)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
