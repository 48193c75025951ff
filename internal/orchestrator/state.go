package orchestrator

// Value is a device parameter or intermediate value. Values stay within the
// JSON model: nil, bool, string, int64, float64, []any and map[string]any.
type Value = any

// Devices maps device id to parameter id to value.
type Devices map[string]map[string]Value

// Clone returns a deep copy of the table.
func (d Devices) Clone() Devices {
	out := make(Devices, len(d))
	for deviceID, params := range d {
		cpy := make(map[string]Value, len(params))
		for k, v := range params {
			cpy[k] = CloneValue(v)
		}
		out[deviceID] = cpy
	}
	return out
}

// ExecutionContext is the state visible to a run. Devices is shared by all
// chains of a batch; Intermediate belongs to the chain being traversed and is
// reset when a traversal starts.
type ExecutionContext struct {
	Devices      Devices
	Intermediate Value
}

// NewExecutionContext wraps a caller owned device table. A nil table is
// replaced by an empty one.
func NewExecutionContext(devices Devices) *ExecutionContext {
	if devices == nil {
		devices = make(Devices)
	}
	return &ExecutionContext{Devices: devices}
}

// Lookup returns the value of a device parameter.
func (ec *ExecutionContext) Lookup(deviceID, parameterID string) (Value, bool) {
	params, ok := ec.Devices[deviceID]
	if !ok {
		return nil, false
	}
	v, ok := params[parameterID]
	return v, ok
}

// Set upserts a device parameter, creating the device entry if needed.
func (ec *ExecutionContext) Set(deviceID, parameterID string, v Value) {
	params, ok := ec.Devices[deviceID]
	if !ok {
		params = make(map[string]Value)
		ec.Devices[deviceID] = params
	}
	params[parameterID] = v
}

// Merge upserts every parameter of one device.
func (ec *ExecutionContext) Merge(deviceID string, params map[string]Value) {
	for k, v := range params {
		ec.Set(deviceID, k, v)
	}
}
