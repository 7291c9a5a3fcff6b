package checkcmder

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Check Command", func() {
	var (
		tmpDir     string
		configPath string
		models     string
		upstream   *httptest.Server
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "imagepipe-check-test-*")
		Expect(err).NotTo(HaveOccurred())

		models = `{"object":"list","data":[{"id":"minicpm-v:latest","object":"model"},{"id":"llama3.1:latest","object":"model"}]}`
		upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/models" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, models)
		}))

		configPath = filepath.Join(tmpDir, "imagepipe.toml")
		config := "base_url = \"" + upstream.URL + "\"\n" +
			"vision_model = \"minicpm-v\"\n" +
			"general_model = \"llama3.1\"\n"
		Expect(os.WriteFile(configPath, []byte(config), 0o600)).To(Succeed())
	})

	AfterEach(func() {
		upstream.Close()
		os.RemoveAll(tmpDir)
	})

	execute := func() (string, error) {
		var out bytes.Buffer
		cmd := NewCheckCmd()
		cmd.SetArgs([]string{"--config", configPath})
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		err := cmd.Execute()
		return out.String(), err
	}

	It("reports success when both models are available", func() {
		out, err := execute()
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring(upstream.URL))
		Expect(out).To(ContainSubstring("all models available"))
	})

	It("reports every missing model and fails", func() {
		models = `{"object":"list","data":[{"id":"mistral:latest","object":"model"}]}`

		out, err := execute()
		Expect(err).To(MatchError(ErrCheckFailed))
		Expect(out).To(ContainSubstring(`vision model "minicpm-v" is not available on the server`))
		Expect(out).To(ContainSubstring(`general purpose model "llama3.1" is not available on the server`))
	})

	It("fails when the server cannot be listed", func() {
		upstream.Close()

		out, err := execute()
		Expect(err).To(MatchError(ErrCheckFailed))
		Expect(out).To(ContainSubstring("could not list models"))
	})

	It("rejects a configuration without model identifiers", func() {
		Expect(os.WriteFile(configPath, []byte("vision_model = \"\"\n"), 0o600)).To(Succeed())

		_, err := execute()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("invalid configuration"))
	})
})
