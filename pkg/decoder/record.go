package decoder

import (
	"encoding/json"
	"time"
)

// Kind discriminates the records a model server can stream.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindPartialText
	KindPartialMessage
	KindDone
	// KindEmpty is a text-bearing record whose text is empty.
	KindEmpty
	// KindFailure is a record in which the server reports an error mid-stream.
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindPartialText:
		return "partial_text"
	case KindPartialMessage:
		return "partial_message"
	case KindDone:
		return "done"
	case KindEmpty:
		return "empty"
	case KindFailure:
		return "failure"
	default:
		return "unrecognized"
	}
}

// Record is one decoded JSON object from a model server stream. A record may
// carry text and also be terminal; Done reports the latter independently of Kind.
type Record struct {
	Kind  Kind
	Text  string
	Done  bool
	Err   string
	Stats *Stats
	Raw   string
}

// Stats holds the timing metadata of a terminal record.
type Stats struct {
	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
	EvalCount     int
}

// ParseRecord classifies one complete JSON value. Fields are read one by one,
// so a mistyped field never hides another. An error field takes priority, then
// text, then the done flag; an object that contains none of them is unrecognized.
func ParseRecord(raw []byte) Record {
	rec := Record{Raw: string(raw)}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return rec
	}

	if failure, _ := field[string](fields, "error"); failure != "" {
		rec.Kind = KindFailure
		rec.Err = failure
		return rec
	}

	rec.Done, _ = field[bool](fields, "done")
	if rec.Done {
		rec.Stats = parseStats(fields)
	}

	response, hasResponse := field[string](fields, "response")
	message, hasMessage := field[struct {
		Content string `json:"content"`
	}](fields, "message")

	switch {
	case response != "":
		rec.Kind = KindPartialText
		rec.Text = response
	case message.Content != "":
		rec.Kind = KindPartialMessage
		rec.Text = message.Content
	case rec.Done:
		rec.Kind = KindDone
	case hasResponse || hasMessage:
		rec.Kind = KindEmpty
	}

	return rec
}

// parseStats reads the timing metadata of a terminal record. Durations are
// nanoseconds; fractional values are truncated.
func parseStats(fields map[string]json.RawMessage) *Stats {
	total, _ := field[float64](fields, "total_duration")
	load, _ := field[float64](fields, "load_duration")
	eval, _ := field[float64](fields, "eval_duration")
	count, _ := field[float64](fields, "eval_count")

	if total <= 0 && load <= 0 && eval <= 0 {
		return nil
	}

	return &Stats{
		TotalDuration: time.Duration(total),
		LoadDuration:  time.Duration(load),
		EvalDuration:  time.Duration(eval),
		EvalCount:     int(count),
	}
}

// field decodes fields[key] into T. It reports false when the key is absent,
// null or of another type.
func field[T any](fields map[string]json.RawMessage, key string) (T, bool) {
	var v T
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
