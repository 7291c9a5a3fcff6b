package llm

// Options contains model inference parameters.
type Options struct {
	// Sampling parameters
	Temperature *float64 `json:"temperature,omitempty"` // Creativity (0.0-2.0)

	// Length parameters
	NumCtx int `json:"num_ctx,omitempty"` // Context window size
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
