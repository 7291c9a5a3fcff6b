package decoder_test

import (
	"errors"
	"io"
	"strings"
	"testing/iotest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/papercomputeco/imagepipe/pkg/decoder"
	"github.com/papercomputeco/imagepipe/pkg/llm"
)

// splitReader hands out its data in pieces of the given sizes, cycling through them.
type splitReader struct {
	data  []byte
	sizes []int
	i     int
}

func (r *splitReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.sizes[r.i%len(r.sizes)]
	r.i++
	n = min(n, len(p), len(r.data))
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// splitAt delivers data as exactly two reads split at offset.
func splitAt(data string, offset int) io.Reader {
	return &splitReader{data: []byte(data), sizes: []int{offset, len(data)}}
}

type result struct {
	chunks []string
	errs   []error
}

func collect(d *decoder.Decoder, r io.Reader) result {
	var res result
	for chunk, err := range d.Chunks(r) {
		if err != nil {
			res.errs = append(res.errs, err)
			continue
		}
		res.chunks = append(res.chunks, chunk)
	}
	return res
}

const generateStream = `{"model":"minicpm-v","response":"Hello","done":false}
{"model":"minicpm-v","response":", wörld","done":false}
{"model":"minicpm-v","response":"","done":false}
{"model":"minicpm-v","response":" ✓","done":false}
{"model":"minicpm-v","response":"","done":true,"total_duration":2500000000,"load_duration":500000000,"eval_duration":1500000000,"eval_count":12}
`

var _ = Describe("Decoder", func() {
	var (
		d    *decoder.Decoder
		logs *observer.ObservedLogs
	)

	BeforeEach(func() {
		var core zapcore.Core
		core, logs = observer.New(zap.DebugLevel)
		d = decoder.New(zap.New(core))
	})

	Describe("Chunks", func() {
		It("decodes the documented example", func() {
			stream := `{"response":"AB"}{"response":"C","done":false}{"done":true}`
			res := collect(d, strings.NewReader(stream))

			Expect(res.errs).To(BeEmpty())
			Expect(res.chunks).To(Equal([]string{"AB", "C"}))
		})

		It("emits response text in order and stops at done", func() {
			res := collect(d, strings.NewReader(generateStream))

			Expect(res.errs).To(BeEmpty())
			Expect(res.chunks).To(Equal([]string{"Hello", ", wörld", " ✓"}))
		})

		It("emits message content from chat streams", func() {
			stream := `{"message":{"role":"assistant","content":"Hi"},"done":false}
{"message":{"role":"assistant","content":" there"},"done":false}
{"message":{"role":"assistant","content":""},"done":true}
`
			res := collect(d, strings.NewReader(stream))

			Expect(res.errs).To(BeEmpty())
			Expect(res.chunks).To(Equal([]string{"Hi", " there"}))
		})

		It("prefers response over message content", func() {
			stream := `{"response":"r","message":{"role":"assistant","content":"m"}}{"done":true}`
			res := collect(d, strings.NewReader(stream))

			Expect(res.chunks).To(Equal([]string{"r"}))
		})

		Context("fragmentation", func() {
			It("yields the same chunks for every two-way split", func() {
				want := collect(d, strings.NewReader(generateStream))

				for offset := 1; offset < len(generateStream); offset++ {
					got := collect(d, splitAt(generateStream, offset))
					Expect(got).To(Equal(want), "split at byte %d", offset)
				}
			})

			It("yields the same chunks when read one byte at a time", func() {
				want := collect(d, strings.NewReader(generateStream))
				got := collect(d, iotest.OneByteReader(strings.NewReader(generateStream)))

				Expect(got).To(Equal(want))
			})

			It("yields the same chunks for irregular fragment sizes", func() {
				want := collect(d, strings.NewReader(generateStream))

				for _, sizes := range [][]int{{3}, {7, 1, 13}, {64, 2}, {5, 100, 1, 1, 9}} {
					got := collect(d, &splitReader{data: []byte(generateStream), sizes: sizes})
					Expect(got).To(Equal(want), "sizes %v", sizes)
				}
			})

			It("handles records coalesced into one read", func() {
				small := decoder.New(zap.NewNop(), decoder.WithReadSize(1<<16))
				res := collect(small, strings.NewReader(`{"response":"a"}{"response":"b"}`+"\n"+`{"done":true}`))

				Expect(res.chunks).To(Equal([]string{"a", "b"}))
			})
		})

		Context("termination", func() {
			It("emits nothing after the done record", func() {
				stream := `{"response":"before"}{"done":true}{"response":"after"}{"done":true}`
				res := collect(d, strings.NewReader(stream))

				Expect(res.errs).To(BeEmpty())
				Expect(res.chunks).To(Equal([]string{"before"}))
			})

			It("emits text carried by the done record and then stops", func() {
				stream := `{"response":"last","done":true}{"response":"ignored"}`
				res := collect(d, strings.NewReader(stream))

				Expect(res.chunks).To(Equal([]string{"last"}))
			})

			It("stops at a done record whose metadata has unexpected types", func() {
				for _, terminal := range []string{
					`{"done":true,"eval_duration":1.5}`,
					`{"done":true,"message":"bye"}`,
					`{"done":true,"total_duration":"long","eval_count":null}`,
				} {
					stream := `{"response":"a"}` + terminal + `{"response":"after"}`
					res := collect(d, strings.NewReader(stream))

					Expect(res.errs).To(BeEmpty(), terminal)
					Expect(res.chunks).To(Equal([]string{"a"}), terminal)
				}
			})

			It("does not read past the done record", func() {
				r := &splitReader{data: []byte(`{"done":true}` + `{"response":"x"}`), sizes: []int{13}}
				collect(d, r)

				Expect(string(r.data)).To(Equal(`{"response":"x"}`))
			})

			It("treats an empty response as no-emit without terminating", func() {
				stream := `{"response":""}{"response":"x"}{"done":true}`
				res := collect(d, strings.NewReader(stream))

				Expect(res.chunks).To(Equal([]string{"x"}))
			})

			It("ends quietly when the stream closes without done and no residue", func() {
				res := collect(d, strings.NewReader(`{"response":"x"}`+"\n"))

				Expect(res.errs).To(BeEmpty())
				Expect(res.chunks).To(Equal([]string{"x"}))
				Expect(logs.FilterMessage("stream ended without a done record").Len()).To(Equal(1))
			})

			It("stops when the consumer breaks", func() {
				var got []string
				for chunk, err := range d.Chunks(strings.NewReader(generateStream)) {
					Expect(err).NotTo(HaveOccurred())
					got = append(got, chunk)
					break
				}

				Expect(got).To(Equal([]string{"Hello"}))
			})
		})

		Context("residue", func() {
			It("yields exactly one decode error for a truncated record", func() {
				res := collect(d, strings.NewReader(`{"response":"ok"}{"response":"trunc`))

				Expect(res.chunks).To(Equal([]string{"ok"}))
				Expect(res.errs).To(HaveLen(1))

				var decodeErr llm.DecodeError
				Expect(errors.As(res.errs[0], &decodeErr)).To(BeTrue())
				Expect(decodeErr.Residue).To(Equal(`{"response":"trunc`))
			})

			It("reports garbage that never parses", func() {
				res := collect(d, strings.NewReader("not json at all"))

				Expect(res.chunks).To(BeEmpty())
				Expect(res.errs).To(HaveLen(1))
				Expect(res.errs[0]).To(BeAssignableToTypeOf(llm.DecodeError{}))
			})

			It("ignores trailing whitespace", func() {
				res := collect(d, strings.NewReader(`{"response":"a"}`+"\n\n  "))

				Expect(res.errs).To(BeEmpty())
			})
		})

		Context("read failures", func() {
			It("yields a transport error", func() {
				r := io.MultiReader(strings.NewReader(`{"response":"a"}`), iotest.ErrReader(errors.New("connection reset")))
				res := collect(d, r)

				Expect(res.chunks).To(Equal([]string{"a"}))
				Expect(res.errs).To(HaveLen(1))
				Expect(res.errs[0]).To(BeAssignableToTypeOf(llm.TransportError{}))
				Expect(res.errs[0].Error()).To(ContainSubstring("connection reset"))
			})
		})

		Context("server failures", func() {
			It("ends with a stream error when a record carries an error", func() {
				stream := `{"message":{"content":"Hel"}}` + "\n" + `{"error":"model runner has unexpectedly stopped"}` + "\n" + `{"message":{"content":"lo"}}`
				res := collect(d, strings.NewReader(stream))

				Expect(res.chunks).To(Equal([]string{"Hel"}))
				Expect(res.errs).To(HaveLen(1))

				var streamErr llm.StreamError
				Expect(errors.As(res.errs[0], &streamErr)).To(BeTrue())
				Expect(streamErr.Message).To(Equal("model runner has unexpectedly stopped"))
				Expect(logs.FilterMessage("stream ended without a done record").Len()).To(BeZero())
			})

			It("ignores an empty error field", func() {
				res := collect(d, strings.NewReader(`{"response":"x","error":""}{"done":true}`))

				Expect(res.errs).To(BeEmpty())
				Expect(res.chunks).To(Equal([]string{"x"}))
			})
		})

		Context("logging", func() {
			It("logs unrecognized records without emitting", func() {
				res := collect(d, strings.NewReader(`{"status":"pulling"}{"response":"x"}{"done":true}`))

				Expect(res.chunks).To(Equal([]string{"x"}))
				Expect(logs.FilterMessage("unrecognized stream record").Len()).To(Equal(1))
			})

			It("logs done statistics in seconds", func() {
				collect(d, strings.NewReader(generateStream))

				entries := logs.FilterMessage("generation complete").All()
				Expect(entries).To(HaveLen(1))
				fields := entries[0].ContextMap()
				Expect(fields["total_seconds"]).To(BeNumerically("~", 2.5))
				Expect(fields["load_seconds"]).To(BeNumerically("~", 0.5))
				Expect(fields["eval_seconds"]).To(BeNumerically("~", 1.5))
			})
		})
	})
})

var _ = Describe("ParseRecord", func() {
	DescribeTable("classification",
		func(raw string, kind decoder.Kind, text string, done bool) {
			rec := decoder.ParseRecord([]byte(raw))
			Expect(rec.Kind).To(Equal(kind))
			Expect(rec.Text).To(Equal(text))
			Expect(rec.Done).To(Equal(done))
		},
		Entry("generate text", `{"response":"a"}`, decoder.KindPartialText, "a", false),
		Entry("chat text", `{"message":{"role":"assistant","content":"b"}}`, decoder.KindPartialMessage, "b", false),
		Entry("terminal", `{"done":true}`, decoder.KindDone, "", true),
		Entry("terminal with text", `{"response":"c","done":true}`, decoder.KindPartialText, "c", true),
		Entry("empty response", `{"response":""}`, decoder.KindEmpty, "", false),
		Entry("unknown object", `{"status":"x"}`, decoder.KindUnrecognized, "", false),
		Entry("non object", `[1,2]`, decoder.KindUnrecognized, "", false),
		Entry("terminal with float duration", `{"done":true,"eval_duration":1.5}`, decoder.KindDone, "", true),
		Entry("terminal with string message", `{"done":true,"message":"bye"}`, decoder.KindDone, "", true),
		Entry("text beside a mistyped field", `{"response":"d","eval_count":"many"}`, decoder.KindPartialText, "d", false),
		Entry("server failure", `{"error":"out of memory"}`, decoder.KindFailure, "", false),
	)

	It("captures timing statistics on terminal records", func() {
		rec := decoder.ParseRecord([]byte(`{"done":true,"total_duration":3000000000,"eval_count":4}`))

		Expect(rec.Stats).NotTo(BeNil())
		Expect(rec.Stats.TotalDuration.Seconds()).To(BeNumerically("~", 3.0))
		Expect(rec.Stats.EvalCount).To(Equal(4))
	})

	It("truncates fractional durations", func() {
		rec := decoder.ParseRecord([]byte(`{"done":true,"eval_duration":1500000000.7}`))

		Expect(rec.Stats).NotTo(BeNil())
		Expect(rec.Stats.EvalDuration).To(Equal(1500 * time.Millisecond))
	})

	It("keeps the server's error text", func() {
		rec := decoder.ParseRecord([]byte(`{"error":"out of memory","done":true}`))

		Expect(rec.Kind).To(Equal(decoder.KindFailure))
		Expect(rec.Err).To(Equal("out of memory"))
	})
})
