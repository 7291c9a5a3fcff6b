package llm

// GenerateRequest is a prompt completion request for /api/generate.
type GenerateRequest struct {
	Model  string   `json:"model"`            // Model name (e.g., "minicpm-v")
	Prompt string   `json:"prompt"`           // Directive plus context
	Images []string `json:"images,omitempty"` // Base64 payloads or remote URLs
	Stream bool     `json:"stream"`

	// Generation options
	Options *Options `json:"options,omitempty"`

	// Keep model loaded
	KeepAlive string `json:"keep_alive,omitempty"` // How long to keep model in memory
}

// ChatRequest is a chat completion request for /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`    // Model name (e.g., "llama3.1")
	Messages []Message `json:"messages"` // Flattened conversation
	Stream   bool      `json:"stream"`

	Options   *Options `json:"options,omitempty"`
	KeepAlive string   `json:"keep_alive,omitempty"`
}
