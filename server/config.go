package server

// Config is the HTTP server configuration.
type Config struct {
	// Address to listen on (e.g., ":9099")
	ListenAddr string
}
