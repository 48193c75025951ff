package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrChainNotFound is returned by chain stores when an id is unknown.
	ErrChainNotFound = errors.New("rule chain not found")
	// ErrChainExists is returned by Create when the id is already taken.
	ErrChainExists = errors.New("rule chain already exists")
)

// MalformedChainError reports a chain whose structure cannot be interpreted:
// no or several source nodes, a switch whose targets do not line up with its
// conditions, duplicate ids, or an edge to a node that does not exist.
type MalformedChainError struct {
	ChainID string
	NodeID  string
	Reason  string
}

func (e *MalformedChainError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("malformed rule chain %s: node %s: %s", e.ChainID, e.NodeID, e.Reason)
	}
	return fmt.Sprintf("malformed rule chain %s: %s", e.ChainID, e.Reason)
}

// UnknownNodeTypeError reports a node type outside the closed set. Decoding
// raises it for persisted chains; the runtime raises it only for Node
// implementations it does not know how to dispatch.
type UnknownNodeTypeError struct {
	ChainID string
	NodeID  string
	Type    string
}

func (e *UnknownNodeTypeError) Error() string {
	return fmt.Sprintf("rule chain %s: node %s: unknown node type %q", e.ChainID, e.NodeID, e.Type)
}

// ScriptExecutionError wraps a sandbox failure in a script node.
type ScriptExecutionError struct {
	ChainID string
	NodeID  string
	Err     error
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("rule chain %s: script node %s: %v", e.ChainID, e.NodeID, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// DeviceUpdateError wraps a failure of the device update sink. Updates
// applied before the failure are kept.
type DeviceUpdateError struct {
	ChainID     string
	NodeID      string
	DeviceID    string
	ParameterID string
	Err         error
}

func (e *DeviceUpdateError) Error() string {
	return fmt.Sprintf("rule chain %s: action node %s: update %s.%s: %v",
		e.ChainID, e.NodeID, e.DeviceID, e.ParameterID, e.Err)
}

func (e *DeviceUpdateError) Unwrap() error { return e.Err }

// StepLimitError stops a traversal that visited more nodes than allowed,
// which only happens for chains with cycles.
type StepLimitError struct {
	ChainID string
	Limit   int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("rule chain %s: exceeded %d steps", e.ChainID, e.Limit)
}

// IsMalformed reports whether err is or wraps a MalformedChainError.
func IsMalformed(err error) bool {
	var me *MalformedChainError
	return errors.As(err, &me)
}

// IsUnknownNodeType reports whether err is or wraps an UnknownNodeTypeError.
func IsUnknownNodeType(err error) bool {
	var ue *UnknownNodeTypeError
	return errors.As(err, &ue)
}

// IsScriptError reports whether err is or wraps a ScriptExecutionError.
func IsScriptError(err error) bool {
	var se *ScriptExecutionError
	return errors.As(err, &se)
}

// IsDeviceUpdateError reports whether err is or wraps a DeviceUpdateError.
func IsDeviceUpdateError(err error) bool {
	var de *DeviceUpdateError
	return errors.As(err, &de)
}
