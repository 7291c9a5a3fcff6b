package llm

// PipeChunk is one ndjson line streamed back to the host. The last line of a
// streamed turn has Done set and no content. Buffered turns return a single
// PipeChunk carrying the whole output with Done set.
type PipeChunk struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
}
