// Package config loads job descriptions from YAML and builds pipes from
// them.
package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/pipelined/phonic"
	"github.com/pipelined/phonic/decoder"
	"github.com/pipelined/phonic/pipe"
)

// Job describes a single pipe run.
type Job struct {
	// LogLevel is any level known to logrus.
	LogLevel string  `yaml:"log_level"`
	Source   Source  `yaml:"source"`
	Stages   []Stage `yaml:"stages"`
	// Results is a path of the file results are saved to. Results are
	// printed if it's empty.
	Results string `yaml:"results,omitempty"`
	Metric  bool   `yaml:"metric,omitempty"`
}

// Source describes decoder of the job.
type Source struct {
	URI       string  `yaml:"uri"`
	Start     float64 `yaml:"start,omitempty"`
	Duration  float64 `yaml:"duration,omitempty"`
	Stack     bool    `yaml:"stack,omitempty"`
	BlockSize int     `yaml:"block_size"`
}

// Stage describes a processor of the job.
type Stage struct {
	Plugin string        `yaml:"plugin"`
	Output string        `yaml:"output,omitempty"`
	Params phonic.Params `yaml:"params,omitempty"`
	// Metadata is written by encoders.
	Metadata phonic.Metadata `yaml:"metadata,omitempty"`
}

// Default returns job with defaults filled in.
func Default() Job {
	return Job{
		LogLevel: logrus.InfoLevel.String(),
		Source: Source{
			BlockSize: phonic.DefaultBlockSize,
		},
	}
}

// Load reads job from the file. Defaults are applied first, then file
// content, then environment overrides.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	return Parse(data)
}

// Parse decodes job from YAML.
func Parse(data []byte) (*Job, error) {
	job := Default()
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	job.applyEnvOverrides()
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) applyEnvOverrides() {
	if val, ok := os.LookupEnv("PHONIC_LOG_LEVEL"); ok && val != "" {
		j.LogLevel = val
	}
}

// Validate checks the job. All stages must refer registered plugins and
// encoders and graphers must have an output.
func (j *Job) Validate() error {
	if _, err := logrus.ParseLevel(j.LogLevel); err != nil {
		return &phonic.ConfigurationError{Stage: "job", Param: "log_level", Err: err}
	}
	if j.Source.URI == "" {
		return &phonic.ConfigurationError{Stage: "job", Param: "source.uri", Reason: "is required"}
	}
	if j.Source.BlockSize <= 0 {
		return &phonic.ConfigurationError{Stage: "job", Param: "source.block_size", Reason: fmt.Sprintf("must be positive, got %d", j.Source.BlockSize)}
	}
	if len(j.Stages) == 0 {
		return &phonic.ConfigurationError{Stage: "job", Param: "stages", Reason: "at least one stage is required"}
	}
	for i, s := range j.Stages {
		p, ok := phonic.Lookup(s.Plugin)
		if !ok {
			return &phonic.ConfigurationError{Stage: "job", Param: fmt.Sprintf("stages[%d].plugin", i), Reason: fmt.Sprintf("plugin %q is not registered", s.Plugin)}
		}
		if (p.Kind == phonic.KindEncoder || p.Kind == phonic.KindGrapher) && s.Output == "" {
			return &phonic.ConfigurationError{Stage: "job", Param: fmt.Sprintf("stages[%d].output", i), Reason: fmt.Sprintf("%s requires output", p.Kind)}
		}
	}
	return nil
}

// Level returns parsed log level.
func (j *Job) Level() logrus.Level {
	l, err := logrus.ParseLevel(j.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

// Build opens the source to discover stream properties and creates the
// pipe with all stages.
func (j *Job) Build(logger logrus.FieldLogger) (*pipe.Pipe, error) {
	options := []decoder.Option{decoder.WithBlockSize(j.Source.BlockSize)}
	if j.Source.Start > 0 {
		options = append(options, decoder.WithStart(j.Source.Start))
	}
	if j.Source.Duration > 0 {
		options = append(options, decoder.WithDuration(j.Source.Duration))
	}
	if j.Source.Stack {
		options = append(options, decoder.WithStack())
	}
	d, err := decoder.Open(j.Source.URI, options...)
	if err != nil {
		return nil, err
	}
	info, err := d.Open()
	if err != nil {
		return nil, err
	}
	if err := d.Close(); err != nil {
		return nil, err
	}

	processors := make([]phonic.Processor, 0, len(j.Stages))
	for _, s := range j.Stages {
		args := phonic.Args{
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
			Params:     s.Params,
		}
		if s.Output != "" {
			args.Output = phonic.ToFile(s.Output)
		}
		proc, err := phonic.New(s.Plugin, args)
		if err != nil {
			return nil, err
		}
		if enc, ok := proc.(phonic.Encoder); ok && len(s.Metadata) > 0 {
			enc.SetMetadata(s.Metadata)
		}
		processors = append(processors, proc)
	}

	pipeOptions := []pipe.Option{
		pipe.WithName(j.Source.URI),
		pipe.WithProcessors(processors...),
	}
	if logger != nil {
		pipeOptions = append(pipeOptions, pipe.WithLogger(logger))
	}
	if j.Metric {
		pipeOptions = append(pipeOptions, pipe.WithMetric())
	}
	return pipe.New(d, pipeOptions...)
}
