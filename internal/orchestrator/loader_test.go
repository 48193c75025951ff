package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseRuleChain(t *testing.T) {
	chain, err := LoadRuleChain("testdata/chains/01-fan-control.json")
	if err != nil {
		t.Fatalf("failed to load chain: %v", err)
	}

	if chain.ID != "fan-control" || chain.Name != "Fan control" || chain.IntegrationID != "greenhouse" {
		t.Errorf("unexpected chain header: %s %s %s", chain.ID, chain.Name, chain.IntegrationID)
	}
	if chain.Len() != 5 {
		t.Fatalf("expected 5 nodes, got %d", chain.Len())
	}

	src, err := chain.Source()
	if err != nil {
		t.Fatalf("expected a source node: %v", err)
	}
	if src.DeviceID != "sensor-1" || src.ParameterID != "temperature" || src.Target != "classify" {
		t.Errorf("unexpected source node: %+v", src)
	}

	n, ok := chain.Node("branch")
	if !ok {
		t.Fatal("expected branch node")
	}
	sw, ok := n.(*SwitchNode)
	if !ok {
		t.Fatalf("expected switch node, got %T", n)
	}
	if !reflect.DeepEqual(sw.Targets, []string{"fan-on", "fan-off"}) {
		t.Errorf("unexpected targets: %v", sw.Targets)
	}
	if sw.Conditions[0].Operator != "==" || sw.Conditions[0].Value != "HOT" {
		t.Errorf("unexpected condition: %+v", sw.Conditions[0])
	}

	ids := make([]string, 0, chain.Len())
	for _, n := range chain.Nodes() {
		ids = append(ids, n.NodeID())
	}
	want := []string{"temp", "classify", "branch", "fan-on", "fan-off"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected declaration order %v, got %v", want, ids)
	}
}

func TestParseRuleChainIntegerIDsAndAliases(t *testing.T) {
	chains, err := LoadRuleChains("testdata/chains/02-alarm.json")
	if err != nil {
		t.Fatalf("failed to load chains: %v", err)
	}
	if len(chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(chains))
	}
	c := chains[0]
	if c.ID != "2" {
		t.Errorf("expected id \"2\", got %q", c.ID)
	}

	src, err := c.Source()
	if err != nil {
		t.Fatalf("expected a source node: %v", err)
	}
	if src.ID != "1" || src.Target != "2" {
		t.Errorf("unexpected source: %+v", src)
	}

	n, _ := c.Node("3")
	action, ok := n.(*ActionNode)
	if !ok {
		t.Fatalf("expected action node, got %T", n)
	}
	if action.Actions[0].Value != true {
		t.Errorf("expected boolean action value, got %#v", action.Actions[0].Value)
	}
}

func TestParseRuleChainErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		check func(error) bool
	}{
		{
			name:  "unknown node type",
			data:  `{"id":"c","nodes":[{"id":"n","type":"delay"}]}`,
			check: IsUnknownNodeType,
		},
		{
			name:  "no source",
			data:  `{"id":"c","nodes":[{"id":"a","type":"action","config":[]}]}`,
			check: IsMalformed,
		},
		{
			name: "two sources",
			data: `{"id":"c","nodes":[
				{"id":"a","type":"source","config":{"device_id":"d","parameter_id":"p"}},
				{"id":"b","type":"source","config":{"device_id":"d","parameter_id":"q"}}]}`,
			check: IsMalformed,
		},
		{
			name: "duplicate node id",
			data: `{"id":"c","nodes":[
				{"id":"a","type":"source","config":{"device_id":"d","parameter_id":"p"}},
				{"id":"a","type":"action","config":[]}]}`,
			check: IsMalformed,
		},
		{
			name: "switch arity",
			data: `{"id":"c","nodes":[
				{"id":"s","type":"source","config":{"device_id":"d","parameter_id":"p"},"target_node_id":"w"},
				{"id":"w","type":"switch","config":[{"condition":"==","value":1}],"target_node_id":[]}]}`,
			check: IsMalformed,
		},
		{
			name: "bad config shape",
			data: `{"id":"c","nodes":[
				{"id":"s","type":"source","config":["not","an","object"]}]}`,
			check: IsMalformed,
		},
		{
			name:  "invalid json",
			data:  `{"id":`,
			check: func(err error) bool { return err != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRuleChain([]byte(tt.data))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !tt.check(err) {
				t.Errorf("unexpected error type: %v", err)
			}
		})
	}
}

func TestRuleChainRoundTrip(t *testing.T) {
	orig, err := LoadRuleChain("testdata/chains/01-fan-control.json")
	if err != nil {
		t.Fatalf("failed to load chain: %v", err)
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	back, err := ParseRuleChain(data)
	if err != nil {
		t.Fatalf("failed to parse marshalled chain: %v", err)
	}

	if back.ID != orig.ID || back.Name != orig.Name || back.IntegrationID != orig.IntegrationID {
		t.Errorf("header mismatch: %+v vs %+v", back, orig)
	}
	if !reflect.DeepEqual(back.Nodes(), orig.Nodes()) {
		t.Errorf("nodes differ after round trip")
	}
}

func TestLoadRuleChainsDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, data string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	src := `{"id":"s","type":"source","config":{"device_id":"d","parameter_id":"p"}}`
	write("b.json", `{"id":"second","nodes":[`+src+`]}`)
	write("a.json", `[{"id":"first","nodes":[`+src+`]},{"id":"also-first","nodes":[`+src+`]}]`)
	write("notes.txt", "ignored")

	chains, err := LoadRuleChains(dir)
	if err != nil {
		t.Fatalf("failed to load directory: %v", err)
	}
	var ids []string
	for _, c := range chains {
		ids = append(ids, c.ID)
	}
	want := []string{"first", "also-first", "second"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("expected %v, got %v", want, ids)
	}

	write("c.json", `{"id":"broken","nodes":[]}`)
	if _, err := LoadRuleChains(dir); err == nil {
		t.Error("expected error for a chain without source")
	}
}

func TestLoadDevices(t *testing.T) {
	devices, err := LoadDevices("testdata/devices.json")
	if err != nil {
		t.Fatalf("failed to load devices: %v", err)
	}
	if devices["sensor-1"]["temperature"] != int64(35) {
		t.Errorf("expected int64 temperature, got %#v", devices["sensor-1"]["temperature"])
	}
	if devices["sensor-1"]["humidity"] != 61.5 {
		t.Errorf("expected float humidity, got %#v", devices["sensor-1"]["humidity"])
	}

	if _, err := DecodeDevices([]byte(`{"d": 3}`)); err == nil {
		t.Error("expected error for non-object parameters")
	}
	if _, err := DecodeDevices([]byte(`[1]`)); err == nil {
		t.Error("expected error for non-object table")
	}
	empty, err := DecodeDevices(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty table, got %v, %v", empty, err)
	}
}

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{`"abc"`, "abc", false},
		{`42`, "42", false},
		{`null`, "", false},
		{`1.5`, "", true},
		{`true`, "", true},
	}
	for _, tt := range tests {
		var id ID
		err := json.Unmarshal([]byte(tt.in), &id)
		if (err != nil) != tt.wantErr {
			t.Errorf("unmarshal %s: error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && id != tt.want {
			t.Errorf("unmarshal %s = %q, want %q", tt.in, id, tt.want)
		}
	}
}

func TestParseNodeType(t *testing.T) {
	for in, want := range map[string]NodeType{
		"source":      NodeTypeSource,
		"SCRIPT":      NodeTypeScript,
		"switch_node": NodeTypeSwitch,
		" Action ":    NodeTypeAction,
	} {
		got, ok := ParseNodeType(in)
		if !ok || got != want {
			t.Errorf("ParseNodeType(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseNodeType("delay"); ok {
		t.Error("expected delay to be rejected")
	}
}

func TestWithIDSharesNodes(t *testing.T) {
	c := mustChain(t, "c1", &SourceNode{ID: "s", DeviceID: "d", ParameterID: "p"})
	cpy := c.WithID("c2")
	if cpy.ID != "c2" || c.ID != "c1" {
		t.Errorf("unexpected ids: %s %s", c.ID, cpy.ID)
	}
	if cpy.Len() != 1 {
		t.Errorf("expected nodes to be kept, got %d", cpy.Len())
	}
}
