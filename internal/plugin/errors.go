// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Error codes for engine failures.
const (
	CodeTypeResolution        = "TYPE_RESOLUTION"
	CodeDuplicateDeclaration  = "DUPLICATE_DECLARATION"
	CodeOperationNotFound     = "OPERATION_NOT_FOUND"
	CodeOperationExecution    = "OPERATION_EXECUTION"
	CodeEventHandlerExecution = "EVENT_HANDLER_EXECUTION"
	CodeInitFailed            = "INIT_FAILED"
	CodeDisposeFailed         = "DISPOSE_FAILED"
	CodeCancelled             = "CANCELLED"
	CodeNotInitialized        = "NOT_INITIALIZED"
	CodeDisposed              = "DISPOSED"
	CodeAgentNotFound         = "AGENT_NOT_FOUND"
	CodeReloadFailed          = "RELOAD_FAILED"
	CodeHotReloadDisabled     = "HOT_RELOAD_DISABLED"
	CodeCapabilityDenied      = "CAPABILITY_DENIED"
)

// ErrManagerClosed is returned when operations are attempted on a closed manager.
var ErrManagerClosed = errors.New("manager is closed")

// ErrTypeResolution creates an error for a declared type that is missing
// from its code unit or does not satisfy the plugin contract.
func ErrTypeResolution(artifact, typeName string, cause error) error {
	b := oops.In("plugin").Code(CodeTypeResolution).
		With("artifact", artifact).
		With("type", typeName)
	if cause != nil {
		return coded(CodeTypeResolution, b.Wrapf(cause, "resolve type %s in %s", typeName, artifact))
	}
	return coded(CodeTypeResolution, b.Errorf("type %s not found in %s", typeName, artifact))
}

// ErrDuplicateDeclaration creates an error for two distinct plugin types
// claiming the same name.
func ErrDuplicateDeclaration(name, identity, existing string) error {
	return coded(CodeDuplicateDeclaration, oops.In("plugin").Code(CodeDuplicateDeclaration).
		With("name", name).
		With("identity", identity).
		With("existing_identity", existing).
		Errorf("plugin name %q already declared by %s", name, existing))
}

// ErrOperationNotFound creates an error for an unknown operation name.
func ErrOperationNotFound(operation string) error {
	return coded(CodeOperationNotFound, oops.In("plugin").Code(CodeOperationNotFound).
		With("operation", operation).
		Errorf("operation not found: %s", operation))
}

// ErrOperationExecution wraps a failure raised by a plugin operation.
func ErrOperationExecution(operation string, cause error) error {
	return coded(CodeOperationExecution, oops.In("plugin").Code(CodeOperationExecution).
		With("operation", operation).
		Wrapf(cause, "operation %s failed", operation))
}

// ErrEventHandlerExecution wraps a failure raised by an event handler.
func ErrEventHandlerExecution(eventType string, cause error) error {
	return coded(CodeEventHandlerExecution, oops.In("plugin").Code(CodeEventHandlerExecution).
		With("event_type", eventType).
		Wrapf(cause, "handler for event %s failed", eventType))
}

// ErrInit wraps a failure in a plugin's initialize hook.
func ErrInit(name string, cause error) error {
	return coded(CodeInitFailed, oops.In("plugin").Code(CodeInitFailed).
		With("agent", name).
		Wrapf(cause, "initialize %s", name))
}

// ErrDispose wraps a failure in a plugin's dispose hook.
func ErrDispose(name string, cause error) error {
	return coded(CodeDisposeFailed, oops.In("plugin").Code(CodeDisposeFailed).
		With("agent", name).
		Wrapf(cause, "dispose %s", name))
}

// ErrCancelled wraps a context cancellation observed at a suspension point.
func ErrCancelled(operation string, cause error) error {
	return coded(CodeCancelled, oops.In("plugin").Code(CodeCancelled).
		With("operation", operation).
		Wrapf(cause, "%s cancelled", operation))
}

// ErrNotInitialized creates an error for calls arriving before Initialize completes.
func ErrNotInitialized(name string) error {
	return coded(CodeNotInitialized, oops.In("plugin").Code(CodeNotInitialized).
		With("agent", name).
		Errorf("agent %s is not initialized", name))
}

// ErrDisposed creates an error for calls on a disposed instance.
func ErrDisposed(name string) error {
	return coded(CodeDisposed, oops.In("plugin").Code(CodeDisposed).
		With("agent", name).
		Errorf("agent %s is disposed", name))
}

// ErrAgentNotFound creates an error for an unbound agent identity.
func ErrAgentNotFound(id string) error {
	return coded(CodeAgentNotFound, oops.In("plugin").Code(CodeAgentNotFound).
		With("agent", id).
		Errorf("agent not found: %s", id))
}

// ErrHotReloadDisabled creates an error for reload requests when hot
// reload is switched off.
func ErrHotReloadDisabled(id string) error {
	return coded(CodeHotReloadDisabled, oops.In("plugin").Code(CodeHotReloadDisabled).
		With("agent", id).
		Errorf("hot reload is disabled"))
}

// ErrCapabilityDenied creates an error for a host operation the agent was
// not granted.
func ErrCapabilityDenied(id, capability string) error {
	return coded(CodeCapabilityDenied, oops.In("plugin").Code(CodeCapabilityDenied).
		With("agent", id).
		With("capability", capability).
		Errorf("capability denied: %s requires %s", id, capability))
}

// codedError pins an engine error code to one layer of an error chain.
// oops reports the deepest code of a chain, which hides the outer
// classification when a plugin failure itself carries a code.
type codedError struct {
	code string
	err  error
}

func coded(code string, err error) error {
	return &codedError{code: code, err: err}
}

func (e *codedError) Error() string { return e.err.Error() }

func (e *codedError) Unwrap() error { return e.err }

// HasCode reports whether any layer of err carries the engine error code.
func HasCode(err error, code string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if ce, ok := e.(*codedError); ok && ce.code == code {
			return true
		}
	}
	return false
}

// CodeOf returns the outermost engine error code of err, or "".
func CodeOf(err error) string {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return ""
}

// isCancellation reports whether err stems from context cancellation or deadline.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
