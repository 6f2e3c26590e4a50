package guardpost

import (
	"bytes"
	"net/http"
)

// responseBuffer captures the handler's full response so pipeline headers
// can be merged in before anything reaches the wire. The handler never
// writes to the real ResponseWriter directly.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: http.Header{}}
}

func (b *responseBuffer) Header() http.Header {
	return b.header
}

func (b *responseBuffer) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *responseBuffer) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// flush replays the buffered response onto w, overlaying the pipeline
// headers last so a handler cannot clobber X-Request-ID, the rate-limit
// headers or the security headers.
func (b *responseBuffer) flush(w http.ResponseWriter, pipeline http.Header) {
	for key, values := range b.header {
		w.Header()[key] = values
	}
	for key, values := range pipeline {
		w.Header()[key] = values
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	w.WriteHeader(b.status)
	_, _ = w.Write(b.body.Bytes())
}
