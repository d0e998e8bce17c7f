// Package workers exposes review operations as named tools for the MCP
// handler and the /tools HTTP endpoint.
package workers

import "github.com/google/jsonschema-go/jsonschema"

// ToolDef describes one tool a worker executes. A nil InputSchema means
// any JSON object.
type ToolDef struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}
