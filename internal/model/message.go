package model

// MsgType is the "type" field of a frame header
type MsgType string

const (
	// Worker → Dispatcher
	MsgTypeIAmWorker MsgType = "i_am_worker"

	// Default result type produced by the built-in workloads
	MsgTypeResult MsgType = "result"
)

// WorkerConfig is the capability descriptor advertised at registration.
// Absent fields are omitted so the dispatcher applies its own defaults.
type WorkerConfig struct {
	SubscribedEvents []string `json:"subscribed_events,omitempty" yaml:"subscribed_events" toml:"subscribed_events"`
	MaxLatencyMS     *int     `json:"max_latency_ms,omitempty" yaml:"max_latency_ms" toml:"max_latency_ms"`
	MaxBatchSize     *int     `json:"max_batch_size,omitempty" yaml:"max_batch_size" toml:"max_batch_size"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c WorkerConfig) Clone() WorkerConfig {
	out := WorkerConfig{}
	if c.SubscribedEvents != nil {
		out.SubscribedEvents = append([]string(nil), c.SubscribedEvents...)
	}
	if c.MaxLatencyMS != nil {
		v := *c.MaxLatencyMS
		out.MaxLatencyMS = &v
	}
	if c.MaxBatchSize != nil {
		v := *c.MaxBatchSize
		out.MaxBatchSize = &v
	}
	return out
}

// Handshake is the registration frame sent once per connection
type Handshake struct {
	Type         MsgType      `json:"type"`
	WorkerConfig WorkerConfig `json:"worker_config"`
}

// NewHandshake builds the i_am_worker registration header
func NewHandshake(cfg WorkerConfig) Handshake {
	return Handshake{Type: MsgTypeIAmWorker, WorkerConfig: cfg}
}

// Task is one decoded inbound frame handed to the workload
type Task struct {
	ID      string         // header "id" when present, otherwise generated
	Header  map[string]any // decoded structured header
	Payload []byte         // nil when the frame carried no payload
}

// Type returns the header's "type" field, if any
func (t Task) Type() string {
	s, _ := t.Header["type"].(string)
	return s
}

// Result is what a workload returns. Header is encoded unmodified;
// a non-empty Payload turns the outgoing frame into a binary frame.
type Result struct {
	Header  any
	Payload []byte
}
