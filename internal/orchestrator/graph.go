package orchestrator

import (
	"fmt"
	"strings"
)

// NodeType identifies the behaviour of a node in a rule chain.
type NodeType string

const (
	NodeTypeSource NodeType = "source"
	NodeTypeScript NodeType = "script"
	NodeTypeSwitch NodeType = "switch"
	NodeTypeAction NodeType = "action"
)

// ParseNodeType accepts the canonical lower-case names as well as the
// upper-case and "_node" suffixed spellings found in older chain exports.
func ParseNodeType(s string) (NodeType, bool) {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.TrimSuffix(t, "_node")
	switch NodeType(t) {
	case NodeTypeSource, NodeTypeScript, NodeTypeSwitch, NodeTypeAction:
		return NodeType(t), true
	}
	return "", false
}

// Node is one of *SourceNode, *ScriptNode, *SwitchNode or *ActionNode.
// The set is closed: the unexported marker method keeps other packages
// from adding kinds the runtime cannot dispatch.
type Node interface {
	NodeID() string
	Type() NodeType
	node()
}

// SourceNode reads one device parameter into the intermediate value.
type SourceNode struct {
	ID          string
	DeviceID    string
	ParameterID string
	Target      string
}

// ScriptNode replaces the intermediate value with the result of a
// user supplied executeScript function.
type ScriptNode struct {
	ID     string
	Script string
	Target string
}

// Condition is one branch of a switch node.
type Condition struct {
	Operator string
	Value    Value
}

// SwitchNode branches on the intermediate value. Targets[i] is taken when
// Conditions[i] is the first matching condition.
type SwitchNode struct {
	ID         string
	Conditions []Condition
	Targets    []string
}

// Action sets one device parameter.
type Action struct {
	DeviceID    string
	ParameterID string
	Value       Value
}

// ActionNode applies its actions in order and ends the traversal.
type ActionNode struct {
	ID      string
	Actions []Action
}

func (n *SourceNode) NodeID() string { return n.ID }
func (n *ScriptNode) NodeID() string { return n.ID }
func (n *SwitchNode) NodeID() string { return n.ID }
func (n *ActionNode) NodeID() string { return n.ID }

func (n *SourceNode) Type() NodeType { return NodeTypeSource }
func (n *ScriptNode) Type() NodeType { return NodeTypeScript }
func (n *SwitchNode) Type() NodeType { return NodeTypeSwitch }
func (n *ActionNode) Type() NodeType { return NodeTypeAction }

func (*SourceNode) node() {}
func (*ScriptNode) node() {}
func (*SwitchNode) node() {}
func (*ActionNode) node() {}

// RuleChain is an immutable graph of nodes owned by one integration.
type RuleChain struct {
	ID            string
	Name          string
	IntegrationID string

	nodes map[string]Node
	order []string
}

// NewRuleChain builds a chain and checks its structure: node ids must be
// non-empty and unique and every switch needs one target per condition.
// The single-source invariant is checked by Validate and again at run time,
// so stored chains that violate it can still be loaded and reported.
func NewRuleChain(id, name, integrationID string, nodes ...Node) (*RuleChain, error) {
	c := &RuleChain{
		ID:            id,
		Name:          name,
		IntegrationID: integrationID,
		nodes:         make(map[string]Node, len(nodes)),
		order:         make([]string, 0, len(nodes)),
	}

	for _, n := range nodes {
		if n == nil {
			return nil, &MalformedChainError{ChainID: id, Reason: "nil node"}
		}
		nid := n.NodeID()
		if nid == "" {
			return nil, &MalformedChainError{ChainID: id, Reason: "node with empty id"}
		}
		if _, dup := c.nodes[nid]; dup {
			return nil, &MalformedChainError{ChainID: id, NodeID: nid, Reason: "duplicate node id"}
		}
		if sw, ok := n.(*SwitchNode); ok && len(sw.Targets) != len(sw.Conditions) {
			return nil, &MalformedChainError{
				ChainID: id,
				NodeID:  nid,
				Reason:  fmt.Sprintf("switch has %d conditions but %d targets", len(sw.Conditions), len(sw.Targets)),
			}
		}
		c.nodes[nid] = n
		c.order = append(c.order, nid)
	}

	return c, nil
}

// Node returns the node with the given id.
func (c *RuleChain) Node(id string) (Node, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns the nodes in declaration order.
func (c *RuleChain) Nodes() []Node {
	out := make([]Node, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.nodes[id])
	}
	return out
}

// Len returns the number of nodes.
func (c *RuleChain) Len() int {
	return len(c.order)
}

// Source returns the unique source node.
func (c *RuleChain) Source() (*SourceNode, error) {
	var found *SourceNode
	for _, id := range c.order {
		src, ok := c.nodes[id].(*SourceNode)
		if !ok {
			continue
		}
		if found != nil {
			return nil, &MalformedChainError{ChainID: c.ID, NodeID: src.ID, Reason: "multiple source nodes"}
		}
		found = src
	}
	if found == nil {
		return nil, &MalformedChainError{ChainID: c.ID, Reason: "no source node"}
	}
	return found, nil
}

// Validate checks the invariants a chain must satisfy before it is stored.
// Conditions with operators other than == are kept; they never match.
func (c *RuleChain) Validate() error {
	_, err := c.Source()
	return err
}

// WithID returns a copy of the chain carrying a different id. Nodes are
// shared since they are never mutated.
func (c *RuleChain) WithID(id string) *RuleChain {
	cpy := *c
	cpy.ID = id
	return &cpy
}
