// Package tools implements the callable tool surface agents use to act
// on the vault. Every tool declares a JSON schema for its input, reports
// whether it reads or writes, and returns a uniform Result so the
// executor can enforce policy without knowing individual tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// OperationType classifies what a tool does to the vault. The executor
// refuses write operations for agents without dangerous-operation
// permission.
type OperationType string

const (
	OperationRead  OperationType = "read"
	OperationWrite OperationType = "write"
)

// Metadata describes the side effects of one tool invocation.
type Metadata struct {
	OperationType OperationType `json:"operationType"`
	FilesAffected []string      `json:"filesAffected,omitempty"`
}

// Result is the uniform tool outcome. Exactly one of Data and Error is
// meaningful, selected by Success.
type Result struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// Succeed builds a successful result.
func Succeed(op OperationType, data any, files ...string) Result {
	return Result{
		Success:  true,
		Data:     data,
		Metadata: Metadata{OperationType: op, FilesAffected: files},
	}
}

// Fail builds a failed result carrying a message safe to show the model.
func Fail(op OperationType, msg string, files ...string) Result {
	return Result{
		Success:  false,
		Error:    msg,
		Metadata: Metadata{OperationType: op, FilesAffected: files},
	}
}

// ScopeViolation builds the failure returned when a path falls outside
// the agent's folder scope. The executor also matches on this message
// prefix when logging refusals.
func ScopeViolation(op OperationType, path string) Result {
	return Fail(op, fmt.Sprintf("scope violation: %s is outside the allowed folders", path))
}

// Encode serializes a result for the tool-response message sent back to
// the model.
func (r Result) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"unencodable result: %s"}`, err)
	}
	return string(data)
}

// Tool is one callable operation.
type Tool interface {
	// Name is the identifier advertised to models.
	Name() string
	Description() string
	// Schema describes the input object.
	Schema() *jsonschema.Schema
	// Operation classifies the tool for the dangerous-operation policy.
	Operation() OperationType
	// Execute runs the tool. Failures are reported inside the Result, not
	// as errors: the model sees them and can react.
	Execute(ctx context.Context, args map[string]any) Result
}

// decodeArgs maps loosely typed call arguments onto a typed input
// struct.
func decodeArgs(args map[string]any, dst any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
