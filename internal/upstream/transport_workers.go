//go:build js && wasm

package upstream

import "net/http"

// NewHTTPClient returns a client backed by the runtime's fetch API, which
// manages connect and write deadlines itself.
func NewHTTPClient(cfg Config) HTTPClient {
	return &http.Client{}
}
