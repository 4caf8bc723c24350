package pipeline

import (
	"fmt"
	"path/filepath"
	"time"

	"conveyor/internal/config"
	"conveyor/record"
	"conveyor/sink"
	"conveyor/sink/stdout"
	"conveyor/source/kafka"
)

// Compile wires a Runner from a job YAML: source driver and config, sinks and
// their configs, and the engine-side checkpoint store.
func Compile(path string) (*Runner, error) {
	jb, srcPath, sinkPath, err := config.LoadJobSpec(path)
	if err != nil {
		return nil, err
	}
	r := NewRunner(jb.Task.Name)

	/*──────── source ───────*/
	driver := jb.Source.Driver
	if driver == "" {
		driver = "sarama"
	}
	src, err := kafka.NewAdapter(driver)
	if err != nil {
		return nil, err
	}
	scfg, err := config.LoadSourceConfig(srcPath)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(scfg, rawDecode); err != nil {
		return nil, err
	}
	r.SetSource(src)
	if scfg.Coordination.Backoff > 0 {
		r.backoff = scfg.Coordination.Backoff
	}

	/*──────── sinks ───────*/
	for _, name := range jb.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			return nil, err
		}
		switch name {
		case "kafka":
			kcfg, err := config.LoadSinkConfig(sinkPath)
			if err != nil {
				return nil, err
			}
			kcfg.Encode = rawEncode
			err = sDrv.Configure(kcfg)
			if err != nil {
				return nil, err
			}
		case "stdout":
			err = sDrv.Configure(stdout.Config{
				DelayMS:       jb.Debug.PerRecordDelayMS,
				PrintCounter:  jb.Debug.PrintCounter,
				PrintValue:    jb.Debug.PrintValue,
				ValueMaxBytes: jb.Debug.ValueMaxBytes,
			})
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("no config block for sink %q", name)
		}
		r.AddSink(sDrv)
	}

	/*──────── engine-side checkpoint store ───────*/
	cpPath := jb.Task.CheckpointPath
	if cpPath == "" {
		cpPath = jb.Task.Name + ".checkpoint.json"
	}
	if !filepath.IsAbs(cpPath) {
		cpPath = filepath.Join(filepath.Dir(path), cpPath)
	}
	r.store = &CheckpointStore{Path: cpPath}
	if jb.Task.CheckpointEveryMS > 0 {
		r.every = time.Duration(jb.Task.CheckpointEveryMS) * time.Millisecond
	}
	return r, nil
}

// rawDecode passes payload bytes through untouched; the literal "done" marks
// end-of-stream for the demo loop.
func rawDecode(value []byte) (any, error) {
	if string(value) == "done" {
		return record.Done, nil
	}
	return value, nil
}

func rawEncode(v any) ([]byte, error) {
	if record.IsDone(v) {
		return []byte("done"), nil
	}
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return nil, fmt.Errorf("no encoder for %T", v)
}
