package turn

import (
	"strings"

	"github.com/papercomputeco/imagepipe/pkg/llm"
)

// ExtractImages returns the image payloads of the last message when it is a
// user message with structured content. Images earlier in the history are
// ignored.
func ExtractImages(messages []llm.ChatMessage) []string {
	if len(messages) == 0 {
		return nil
	}

	last := messages[len(messages)-1]
	if last.Role != llm.RoleUser || !last.Content.Structured {
		return nil
	}

	var images []string
	for _, block := range last.Content.Blocks {
		if block.Type != llm.BlockImage || block.ImageURL == nil {
			continue
		}
		images = append(images, ImagePayload(block.ImageURL.URL))
	}

	return images
}

// ImagePayload strips a data URI down to the payload that follows the first
// comma. Any other reference is returned verbatim for the server to fetch.
func ImagePayload(ref string) string {
	if !strings.HasPrefix(ref, "data:image") {
		return ref
	}

	_, payload, found := strings.Cut(ref, ",")
	if !found {
		return ref
	}

	return payload
}
