package rulesource

// fileRuleSet is the on-disk YAML shape. Field names intentionally mirror
// the decoded domain types so a config author can read one against the
// other without a translation layer.
type fileRuleSet struct {
	CircuitBreakers []fileBreakerBinding `yaml:"circuit_breakers"`
	Inbound         []fileRoute          `yaml:"inbound"`
	Outbound        []fileRoute          `yaml:"outbound"`
}

type fileBreakerBinding struct {
	Namespace string          `yaml:"namespace"`
	Service   string          `yaml:"service"`
	Level     string          `yaml:"level"` // SERVICE | METHOD | SUBSET | INSTANCE
	Rule      fileBreakerRule `yaml:"rule"`
}

type fileBreakerRule struct {
	Name     string              `yaml:"name"`
	Triggers []fileTrigger       `yaml:"triggers"`
	Errors   []fileErrorCond     `yaml:"errors"`
	Recover  fileRecoverCond     `yaml:"recover"`
	Fallback *fileFallbackConfig `yaml:"fallback,omitempty"`
}

type fileTrigger struct {
	Kind            string `yaml:"kind"` // ERROR_RATE | CONSECUTIVE_ERROR
	IntervalSeconds int    `yaml:"interval_seconds"`
	MinimumSamples  int    `yaml:"minimum_samples"`
	ErrorPercent    int    `yaml:"error_percent"`
	ErrorCount      int    `yaml:"error_count"`
}

type fileErrorCond struct {
	Input   string `yaml:"input"` // RET_CODE | DELAY
	Pattern string `yaml:"pattern,omitempty"`
	Operand string `yaml:"operand,omitempty"`
}

type fileRecoverCond struct {
	SleepWindowSeconds      int `yaml:"sleep_window_seconds"`
	ConsecutiveSuccessCount int `yaml:"consecutive_success_count"`
}

type fileFallbackConfig struct {
	Enable   bool              `yaml:"enable"`
	Response fileFallbackResp  `yaml:"response"`
}

type fileFallbackResp struct {
	Code    int               `yaml:"code"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
}

type fileRoute struct {
	Sources      []fileSource      `yaml:"sources"`
	Destinations []fileDestination `yaml:"destinations"`
}

type fileSource struct {
	Namespace string                    `yaml:"namespace"`
	Service   string                    `yaml:"service"`
	Metadata  map[string]fileMatchValue `yaml:"metadata,omitempty"`
}

type fileDestination struct {
	Namespace string                    `yaml:"namespace"`
	Service   string                    `yaml:"service"`
	Subset    string                    `yaml:"subset,omitempty"`
	Metadata  map[string]fileMatchValue `yaml:"metadata,omitempty"`
	Priority  int                       `yaml:"priority"`
	Weight    int                       `yaml:"weight"`
	Isolate   bool                      `yaml:"isolate,omitempty"`
}

// fileMatchValue decodes either a bare scalar ("west", read as EXACT) or an
// explicit {op, value} mapping, mirroring how real-world rule YAML is
// usually authored — most clauses are exact matches and don't want the
// ceremony of spelling out op: EXACT every time.
type fileMatchValue struct {
	Op    string `yaml:"op,omitempty"`
	Value string `yaml:"value,omitempty"`
}

// UnmarshalYAML implements custom decoding for the bare-scalar shorthand.
func (v *fileMatchValue) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var scalar string
	if err := unmarshal(&scalar); err == nil {
		v.Op = "EXACT"
		v.Value = scalar
		return nil
	}
	type plain fileMatchValue
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*v = fileMatchValue(p)
	if v.Op == "" {
		v.Op = "EXACT"
	}
	return nil
}
