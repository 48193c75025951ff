package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// ID is a node, chain or device identifier. Exports from older systems use
// integer ids; they are kept as their decimal string.
type ID string

// UnmarshalJSON accepts a JSON string or integer.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("id must be a string or integer, got %s", data)
	}
	*id = ID(strconv.FormatInt(n, 10))
	return nil
}

type wireChain struct {
	ID            ID         `json:"id"`
	Name          string     `json:"name"`
	IntegrationID ID         `json:"integration_id"`
	Nodes         []wireNode `json:"nodes"`
}

type wireNode struct {
	ID           ID              `json:"id"`
	Type         string          `json:"type"`
	Config       json.RawMessage `json:"config,omitempty"`
	TargetNodeID json.RawMessage `json:"target_node_id,omitempty"`
}

type sourceConfig struct {
	DeviceID    ID `json:"device_id"`
	ParameterID ID `json:"parameter_id"`
}

type scriptConfig struct {
	Script string `json:"script"`
}

type wireCondition struct {
	Condition string          `json:"condition"`
	Value     json.RawMessage `json:"value"`
}

type wireAction struct {
	DeviceID    ID              `json:"device_id"`
	ParameterID ID              `json:"parameter_id"`
	Value       json.RawMessage `json:"value"`
}

// DecodeValue parses a JSON document into the value model. Integers that
// fit in int64 decode as int64, every other number as float64.
func DecodeValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return NormalizeValue(v)
}

// DecodeDevices parses a device table of the form
// {"device": {"parameter": value}}.
func DecodeDevices(data []byte) (Devices, error) {
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return make(Devices), nil
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("device table must be a JSON object")
	}
	devices := make(Devices, len(root))
	for deviceID, raw := range root {
		params, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("device %s: parameters must be a JSON object", deviceID)
		}
		devices[deviceID] = params
	}
	return devices, nil
}

func decodeTarget(data json.RawMessage) (string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return "", nil
	}
	var id ID
	if err := json.Unmarshal(data, &id); err != nil {
		return "", err
	}
	return string(id), nil
}

func decodeTargets(data json.RawMessage) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var ids []ID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out, nil
}

func decodeNode(chainID string, wn wireNode) (Node, error) {
	nodeID := string(wn.ID)
	t, ok := ParseNodeType(wn.Type)
	if !ok {
		return nil, &UnknownNodeTypeError{ChainID: chainID, NodeID: nodeID, Type: wn.Type}
	}

	malformed := func(err error) error {
		return &MalformedChainError{ChainID: chainID, NodeID: nodeID, Reason: err.Error()}
	}

	switch t {
	case NodeTypeSource:
		var cfg sourceConfig
		if err := unmarshalConfig(wn.Config, &cfg); err != nil {
			return nil, malformed(fmt.Errorf("source config: %w", err))
		}
		target, err := decodeTarget(wn.TargetNodeID)
		if err != nil {
			return nil, malformed(fmt.Errorf("target_node_id: %w", err))
		}
		return &SourceNode{ID: nodeID, DeviceID: string(cfg.DeviceID), ParameterID: string(cfg.ParameterID), Target: target}, nil

	case NodeTypeScript:
		var cfg scriptConfig
		if err := unmarshalConfig(wn.Config, &cfg); err != nil {
			return nil, malformed(fmt.Errorf("script config: %w", err))
		}
		target, err := decodeTarget(wn.TargetNodeID)
		if err != nil {
			return nil, malformed(fmt.Errorf("target_node_id: %w", err))
		}
		return &ScriptNode{ID: nodeID, Script: cfg.Script, Target: target}, nil

	case NodeTypeSwitch:
		var wcs []wireCondition
		if err := unmarshalConfig(wn.Config, &wcs); err != nil {
			return nil, malformed(fmt.Errorf("switch config: %w", err))
		}
		conds := make([]Condition, len(wcs))
		for i, wc := range wcs {
			v, err := DecodeValue(wc.Value)
			if err != nil {
				return nil, malformed(fmt.Errorf("condition %d value: %w", i, err))
			}
			conds[i] = Condition{Operator: wc.Condition, Value: v}
		}
		targets, err := decodeTargets(wn.TargetNodeID)
		if err != nil {
			return nil, malformed(fmt.Errorf("target_node_id: %w", err))
		}
		return &SwitchNode{ID: nodeID, Conditions: conds, Targets: targets}, nil

	case NodeTypeAction:
		var was []wireAction
		if err := unmarshalConfig(wn.Config, &was); err != nil {
			return nil, malformed(fmt.Errorf("action config: %w", err))
		}
		actions := make([]Action, len(was))
		for i, wa := range was {
			v, err := DecodeValue(wa.Value)
			if err != nil {
				return nil, malformed(fmt.Errorf("action %d value: %w", i, err))
			}
			actions[i] = Action{DeviceID: string(wa.DeviceID), ParameterID: string(wa.ParameterID), Value: v}
		}
		return &ActionNode{ID: nodeID, Actions: actions}, nil
	}

	return nil, &UnknownNodeTypeError{ChainID: chainID, NodeID: nodeID, Type: wn.Type}
}

func unmarshalConfig(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// UnmarshalJSON decodes the wire form of a chain. Node types and structure
// are checked here, so a decoded chain only holds known node kinds.
func (c *RuleChain) UnmarshalJSON(data []byte) error {
	var wc wireChain
	if err := json.Unmarshal(data, &wc); err != nil {
		return err
	}

	chainID := string(wc.ID)
	nodes := make([]Node, 0, len(wc.Nodes))
	for _, wn := range wc.Nodes {
		n, err := decodeNode(chainID, wn)
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
	}

	built, err := NewRuleChain(chainID, wc.Name, string(wc.IntegrationID), nodes...)
	if err != nil {
		return err
	}
	*c = *built
	return nil
}

// MarshalJSON encodes the chain in its wire form, nodes in declaration order.
func (c *RuleChain) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":             c.ID,
		"name":           c.Name,
		"integration_id": c.IntegrationID,
	}
	nodes := make([]map[string]any, 0, len(c.order))
	for _, n := range c.Nodes() {
		nodes = append(nodes, encodeNode(n))
	}
	out["nodes"] = nodes
	return json.Marshal(out)
}

func encodeNode(n Node) map[string]any {
	m := map[string]any{
		"id":   n.NodeID(),
		"type": string(n.Type()),
	}
	switch x := n.(type) {
	case *SourceNode:
		m["config"] = map[string]any{"device_id": x.DeviceID, "parameter_id": x.ParameterID}
		if x.Target != "" {
			m["target_node_id"] = x.Target
		}
	case *ScriptNode:
		m["config"] = map[string]any{"script": x.Script}
		if x.Target != "" {
			m["target_node_id"] = x.Target
		}
	case *SwitchNode:
		conds := make([]map[string]any, len(x.Conditions))
		for i, c := range x.Conditions {
			conds[i] = map[string]any{"condition": c.Operator, "value": c.Value}
		}
		targets := x.Targets
		if targets == nil {
			targets = []string{}
		}
		m["config"] = conds
		m["target_node_id"] = targets
	case *ActionNode:
		actions := make([]map[string]any, len(x.Actions))
		for i, a := range x.Actions {
			actions[i] = map[string]any{"device_id": a.DeviceID, "parameter_id": a.ParameterID, "value": a.Value}
		}
		m["config"] = actions
	}
	return m
}

// ParseRuleChain decodes and validates a single chain.
func ParseRuleChain(data []byte) (*RuleChain, error) {
	var c RuleChain
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse rule chain JSON: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseRuleChains decodes either a single chain object or an array of chains.
func ParseRuleChains(data []byte) ([]*RuleChain, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(trimmed, &raws); err != nil {
			return nil, fmt.Errorf("failed to parse rule chain list: %w", err)
		}
		chains := make([]*RuleChain, 0, len(raws))
		for i, raw := range raws {
			c, err := ParseRuleChain(raw)
			if err != nil {
				return nil, fmt.Errorf("rule chain %d: %w", i, err)
			}
			chains = append(chains, c)
		}
		return chains, nil
	}

	c, err := ParseRuleChain(trimmed)
	if err != nil {
		return nil, err
	}
	return []*RuleChain{c}, nil
}

// LoadRuleChain loads a single rule chain from a JSON file.
func LoadRuleChain(path string) (*RuleChain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule chain file: %w", err)
	}
	return ParseRuleChain(data)
}

// LoadRuleChains loads chains from a file (one chain or an array) or from
// every *.json file of a directory, in file name order.
func LoadRuleChains(path string) ([]*RuleChain, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	files := []string{path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(path, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
	}

	var chains []*RuleChain
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read rule chain file: %w", err)
		}
		parsed, err := ParseRuleChains(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		chains = append(chains, parsed...)
	}
	return chains, nil
}

// LoadDevices reads a device table from a JSON file.
func LoadDevices(path string) (Devices, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read devices file: %w", err)
	}
	devices, err := DecodeDevices(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse devices JSON: %w", err)
	}
	return devices, nil
}
