// docedit-proxy serves the document-editing add-in: it relays edit requests
// to an OpenAI-compatible model, streams progress back over SSE and turns the
// model's answer into structured edit operations.
//
// Usage:
//
//	# Start with defaults and environment overrides
//	docedit-proxy serve
//
//	# Start with a config file, reloaded on change
//	docedit-proxy serve --config config.yaml
//
//	# Check a config file
//	docedit-proxy config validate --config config.yaml
//
//	# Drop ledger rows past the retention window
//	docedit-proxy ledger prune --config config.yaml
package main

func main() {
	Execute()
}
