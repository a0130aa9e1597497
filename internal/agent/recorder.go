// ABOUTME: In-memory http.ResponseWriter used to capture handler output.
// ABOUTME: Buffers status, headers, and body for shipping over the tunnel.

package agent

import (
	"bytes"
	"net/http"
)

// recorder captures the local handler's response so it can travel back over
// the tunnel as a single message.
type recorder struct {
	status      int
	header      http.Header
	body        bytes.Buffer
	wroteHeader bool
}

func newRecorder() *recorder {
	return &recorder{
		status: http.StatusOK,
		header: make(http.Header),
	}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
}

func (r *recorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(p)
}

// flatHeaders collapses the captured header map to single values, last
// write wins, matching the wire model.
func (r *recorder) flatHeaders() map[string]string {
	out := make(map[string]string, len(r.header))
	for name, values := range r.header {
		if len(values) == 0 {
			continue
		}
		out[name] = values[len(values)-1]
	}
	return out
}
