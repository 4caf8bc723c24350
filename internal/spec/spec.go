package spec

// SinkConfigs points each named sink at its own config. The kafka sink reads
// a separate YAML (same loader family as the source); stdout takes its debug
// knobs inline from the Debug section.
type SinkConfigs struct {
	Kafka string `yaml:"kafka"` // path to the sink YAML, relative to the job file
}

type DebugSection struct {
	PerRecordDelayMS int  `yaml:"per_record_delay_ms"`
	PrintCounter     bool `yaml:"print_counter"`
	PrintValue       bool `yaml:"print_value"`
	ValueMaxBytes    int  `yaml:"value_max_bytes"`
}

// File is one job: a single source feeding one or more sinks, driven by the
// connector loop.
type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Task struct {
		Name              string `yaml:"name"`
		CheckpointPath    string `yaml:"checkpoint_path"`     // engine-side durable checkpoint file
		CheckpointEveryMS int    `yaml:"checkpoint_every_ms"` // settle+persist cadence
	} `yaml:"task"`

	Source struct {
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	Sinks       []string     `yaml:"sinks"`
	SinkConfigs SinkConfigs  `yaml:"sink_configs"`
	Debug       DebugSection `yaml:"debug"`
}
