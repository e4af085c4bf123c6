package phonic

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors to match error kinds with errors.Is.
var (
	ErrConfiguration  = errors.New("configuration error")
	ErrDecode         = errors.New("decode error")
	ErrProcess        = errors.New("process error")
	ErrEncodeProcess  = errors.New("encode process error")
	ErrFinalizeMisuse = errors.New("finalize misuse")
)

// Reasons of FinalizeMisuseError.
var (
	// ErrNotSetup is returned when stage is used before Setup.
	ErrNotSetup = errors.New("stage is not set up")
	// ErrFinalized is returned when stage is used after Finalize or Finish.
	ErrFinalized = errors.New("stage is already finalized")
	// ErrNotFinished is returned when Update is called before Finish.
	ErrNotFinished = errors.New("output is not finished")
	// ErrStreamingMode is returned when Update is called in streaming mode.
	ErrStreamingMode = errors.New("not allowed in streaming mode")
)

// ConfigurationError is returned when stages are incompatible or
// constructed with malformed arguments. It's always raised before the
// first frame is pulled.
type ConfigurationError struct {
	Stage  string
	Param  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration")
	if e.Stage != "" {
		fmt.Fprintf(&b, " of %s", e.Stage)
	}
	if e.Param != "" {
		fmt.Fprintf(&b, " [%s]", e.Param)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when source cannot be read.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Source, e.Err)
}

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ProcessError is returned when stage failed to process a frame.
type ProcessError struct {
	Stage string
	Index int
	Err   error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s at frame %d: %v", e.Stage, e.Index, e.Err)
}

// Is matches ErrProcess.
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcess
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// EncodeProcessError is returned when external encoding tool failed. It
// carries the command line and captured standard error output.
type EncodeProcessError struct {
	Message string
	Command string
	Stderr  string
	Err     error
}

func (e *EncodeProcessError) Error() string {
	s := fmt.Sprintf("%s; command: %s; error: %s", e.Message, e.Command, strings.TrimSpace(e.Stderr))
	if e.Err != nil {
		s = fmt.Sprintf("%s; %v", s, e.Err)
	}
	return s
}

// Is matches ErrEncodeProcess.
func (e *EncodeProcessError) Is(target error) bool {
	return target == ErrEncodeProcess
}

func (e *EncodeProcessError) Unwrap() error {
	return e.Err
}

// FinalizeMisuseError signals a violation of stage contract: finalize twice,
// process or update after finalize, update in streaming mode.
type FinalizeMisuseError struct {
	Stage string
	Op    string
	Err   error
}

func (e *FinalizeMisuseError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Op, e.Err)
}

// Is matches ErrFinalizeMisuse.
func (e *FinalizeMisuseError) Is(target error) bool {
	return target == ErrFinalizeMisuse
}

func (e *FinalizeMisuseError) Unwrap() error {
	return e.Err
}

// Errors wraps errors that might occur when multiple stages are failing.
type Errors []error

func (e Errors) Error() string {
	s := make([]string, 0, len(e))
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ", ")
}

// Unwrap allows to match any of wrapped errors.
func (e Errors) Unwrap() []error {
	return e
}

// Ret returns untyped nil if error list is empty and the only error if
// there is one.
func (e Errors) Ret() error {
	switch len(e) {
	case 0:
		return nil
	case 1:
		return e[0]
	}
	return e
}
