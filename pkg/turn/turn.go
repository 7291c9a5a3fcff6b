// Package turn builds the per-request state of one pipeline run: the
// conversation supplied by the host together with the images extracted from it.
package turn

import (
	"github.com/papercomputeco/imagepipe/pkg/llm"
)

// Request is the inbound turn request sent by the host chat application.
type Request struct {
	Messages    []llm.ChatMessage `json:"messages"`
	UserMessage string            `json:"user_message"`
	Model       string            `json:"model,omitempty"`
	Stream      *bool             `json:"stream,omitempty"` // defaults to true
	Title       bool              `json:"title,omitempty"`
}

// Streaming reports whether the host wants incremental output.
func (r Request) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// Turn is the state owned by a single pipeline run. It is not safe for
// concurrent use; every request gets its own Turn.
type Turn struct {
	Request
	images []string
}

// New creates a Turn, extracting the images of the last message.
func New(req Request) *Turn {
	return &Turn{
		Request: req,
		images:  ExtractImages(req.Messages),
	}
}

// Images returns the pending image payloads in encountered order.
func (t *Turn) Images() []string {
	return t.images
}

// HasImages reports whether the turn takes the two-stage path.
func (t *Turn) HasImages() bool {
	return len(t.images) > 0
}

// Reset drops the pending images. It is called once the turn has finished.
func (t *Turn) Reset() {
	t.images = nil
}
