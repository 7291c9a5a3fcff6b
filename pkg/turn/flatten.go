package turn

import (
	"github.com/papercomputeco/imagepipe/pkg/llm"
)

// PromptSeparator sits between the directive and the transcription in the
// second-stage prompt.
const PromptSeparator = "\n///\n"

// Flatten reduces a structured conversation to role/content pairs. Every text
// block becomes its own message with the role of its source message; plain
// string content is carried verbatim. Messages without content are skipped.
func Flatten(messages []llm.ChatMessage) []llm.Message {
	flat := make([]llm.Message, 0, len(messages))

	for _, msg := range messages {
		if msg.NoContent {
			continue
		}
		if !msg.Content.Structured {
			flat = append(flat, llm.Message{Role: msg.Role, Content: msg.Content.Text})
			continue
		}

		for _, block := range msg.Content.Blocks {
			if block.Type != llm.BlockText {
				continue
			}
			flat = append(flat, llm.Message{Role: msg.Role, Content: block.Text})
		}
	}

	return flat
}

// Directives selects the instruction for the second stage.
type Directives struct {
	// Sentinel is the user input that asks for Default instead of itself.
	Sentinel string

	// Default is the configured general-purpose directive.
	Default string
}

// Effective returns the directive to use for the given user text.
func (d Directives) Effective(userText string) string {
	if userText == d.Sentinel {
		return d.Default
	}
	return userText
}

// AssemblePrompt builds the second-stage prompt from the user text and the
// reassembled transcription.
func AssemblePrompt(userText string, directives Directives, transcription string) string {
	return directives.Effective(userText) + PromptSeparator + transcription
}
