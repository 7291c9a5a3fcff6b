// Package decoder reassembles streamed model server responses into text chunks.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"

	"go.uber.org/zap"

	"github.com/papercomputeco/imagepipe/pkg/llm"
)

const defaultReadSize = 4096

// Decoder turns a byte stream of JSON records into text chunks.
type Decoder struct {
	logger   *zap.Logger
	readSize int
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithReadSize sets how many bytes are requested from the reader per read.
func WithReadSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// New creates a Decoder.
func New(logger *zap.Logger, opts ...Option) *Decoder {
	d := &Decoder{
		logger:   logger,
		readSize: defaultReadSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Chunks returns a single-use sequence of the text carried by the records of r.
//
// Bytes are accumulated until the buffer holds a complete JSON value, which is
// then consumed and classified. The sequence ends after a record with done set.
// If r ends while the buffer still holds bytes that never formed a value, one
// llm.DecodeError is yielded and the sequence ends. A record carrying an error
// ends the sequence with llm.StreamError. Read failures are yielded as
// llm.TransportError. Closing r is left to the caller.
func (d *Decoder) Chunks(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var pending []byte
		buf := make([]byte, d.readSize)

		for {
			n, readErr := r.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)

				var done, stopped bool
				pending, done, stopped = d.drain(pending, yield)
				if done || stopped {
					return
				}
			}

			if errors.Is(readErr, io.EOF) {
				break
			}
			if readErr != nil {
				yield("", llm.TransportError{Err: readErr})
				return
			}
		}

		if residue := bytes.TrimSpace(pending); len(residue) > 0 {
			d.logger.Warn("stream ended with undecodable residue", zap.Int("bytes", len(residue)))
			yield("", llm.DecodeError{Residue: string(residue)})
			return
		}

		d.logger.Warn("stream ended without a done record")
	}
}

// drain consumes every complete value at the front of pending and returns what
// is left. done is set once a terminal record was seen, stopped once the
// consumer asked to stop.
func (d *Decoder) drain(pending []byte, yield func(string, error) bool) (rest []byte, done, stopped bool) {
	for {
		trimmed := bytes.TrimLeft(pending, " \t\r\n")
		if len(trimmed) == 0 {
			return pending[:0], false, false
		}

		// An incomplete value keeps accumulating; so does a broken one, which
		// surfaces as residue once the stream ends.
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return pending, false, false
		}

		consumed := int(dec.InputOffset())
		pending = append(pending[:0], trimmed[consumed:]...)

		rec := ParseRecord(raw)
		if rec.Kind == KindFailure {
			d.logger.Warn("model server reported an error", zap.String("error", rec.Err))
			yield("", llm.StreamError{Message: rec.Err})
			return pending, false, true
		}

		if rec.Text != "" {
			if !yield(rec.Text, nil) {
				return pending, false, true
			}
		}

		switch {
		case rec.Done:
			d.logDone(rec)
			return pending, true, false
		case rec.Kind == KindUnrecognized:
			d.logger.Warn("unrecognized stream record", zap.String("raw", truncate(rec.Raw, 200)))
		case rec.Kind == KindEmpty:
			d.logger.Debug("empty stream record")
		}
	}
}

func (d *Decoder) logDone(rec Record) {
	if rec.Stats == nil {
		d.logger.Debug("generation complete")
		return
	}

	d.logger.Info("generation complete",
		zap.Float64("total_seconds", rec.Stats.TotalDuration.Seconds()),
		zap.Float64("load_seconds", rec.Stats.LoadDuration.Seconds()),
		zap.Float64("eval_seconds", rec.Stats.EvalDuration.Seconds()),
		zap.Int("eval_count", rec.Stats.EvalCount),
	)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
