package tools

import (
	"errors"
	"fmt"
)

// ErrLocationNotFound is wrapped by providers when the city is unknown to them
var ErrLocationNotFound = errors.New("location not found")

// UnknownToolError means the model asked for a function that is not registered
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// InvalidArgumentError is a malformed tool request, rejected before any external call
type InvalidArgumentError struct {
	Tool     string
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("%s: invalid argument %q: %s", e.Tool, e.Argument, e.Reason)
}

// ToolExecutionError wraps any failure of the external capability
type ToolExecutionError struct {
	Tool    string
	Timeout bool
	Err     error
}

func (e *ToolExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: timed out: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: execution failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// SafeMessage maps a dispatch error to text that can be shown to clients and
// handed back to the model. Provider detail never appears in it.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}

	var unknown *UnknownToolError
	if errors.As(err, &unknown) {
		return fmt.Sprintf("Unknown function: %s", unknown.Name)
	}

	var invalid *InvalidArgumentError
	if errors.As(err, &invalid) {
		return fmt.Sprintf("Invalid %s: %s", invalid.Argument, invalid.Reason)
	}

	var exec *ToolExecutionError
	if errors.As(err, &exec) {
		if exec.Timeout {
			return "The weather service took too long to respond"
		}
		if errors.Is(exec, ErrLocationNotFound) {
			return "Could not find weather data for that location"
		}
	}

	return "The weather service is currently unavailable"
}

// statusLabel buckets an error for metrics
func statusLabel(err error) string {
	var (
		unknown *UnknownToolError
		invalid *InvalidArgumentError
		exec    *ToolExecutionError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &unknown):
		return "unknown_tool"
	case errors.As(err, &invalid):
		return "invalid_argument"
	case errors.As(err, &exec) && exec.Timeout:
		return "timeout"
	}
	return "error"
}
