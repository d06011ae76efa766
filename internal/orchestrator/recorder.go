package orchestrator

import (
	"bytes"
	"net/http"
)

// responseRecorder captures the status, header, and body an
// httputil.ReverseProxy writes instead of forwarding them to the real
// client, so phase 8 (upstream) can hand the captured bytes to C7 for
// cache insertion before the orchestrator's single real write at the end
// of ServeHTTP. Unlike originproxy's internal statusRecorder, this one
// owns its own header map and buffers the body rather than streaming it.
type responseRecorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.wroteHeader = true
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.status = http.StatusOK
		r.wroteHeader = true
	}
	return r.body.Write(b)
}
