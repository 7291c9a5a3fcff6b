package llm

import (
	"encoding/json"
	"fmt"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Block types understood inside structured message content.
const (
	BlockText  = "text"
	BlockImage = "image_url"
)

// ChatMessage is one message of the conversation supplied by the host.
type ChatMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`

	// NoContent is set when the decoded message had no content or a null one.
	NoContent bool `json:"-"`
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role    Role     `json:"role"`
		Content *Content `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*m = ChatMessage{Role: wire.Role}
	if wire.Content == nil {
		m.NoContent = true
		return nil
	}
	m.Content = *wire.Content

	return nil
}

// Content holds either a plain string or an ordered list of blocks.
// Structured reports which form was received.
type Content struct {
	Text       string
	Blocks     []ContentBlock
	Structured bool
}

// ContentBlock is a single text or image block of structured content.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image either remotely or as a data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// TextContent builds plain string content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// BlockContent builds structured content from blocks.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: blocks, Structured: true}
}

// TextBlock builds a text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ImageBlock builds an image block for a URL or data URI.
func ImageBlock(url string) ContentBlock {
	return ContentBlock{Type: BlockImage, ImageURL: &ImageURL{URL: url}}
}

func (c *Content) UnmarshalJSON(data []byte) error {
	*c = Content{}

	if string(data) == "null" {
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}

	if err := json.Unmarshal(data, &c.Blocks); err != nil {
		return fmt.Errorf("content must be a string or a list of blocks: %w", err)
	}
	c.Structured = true

	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Structured {
		blocks := c.Blocks
		if blocks == nil {
			blocks = []ContentBlock{}
		}
		return json.Marshal(blocks)
	}

	return json.Marshal(c.Text)
}

// Message is a flat role/content pair as accepted by the chat endpoint.
type Message struct {
	Role    Role   `json:"role"`    // "system", "user", "assistant"
	Content string `json:"content"` // The message content
}
