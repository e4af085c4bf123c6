package phonic

type lifecycleState int

const (
	idle lifecycleState = iota
	active
	finalized
)

// Lifecycle tracks the state of a stage within a run. It's meant to be
// embedded into stage implementations:
//
//	Setup    - idle/finalized -> active
//	Finalize - active -> finalized
//
// Process, Finalize and similar operations return FinalizeMisuseError if
// called in a wrong state.
type Lifecycle struct {
	// Stage is used in error messages.
	Stage string

	state lifecycleState
}

// Begin moves lifecycle into active state. It's allowed from any state:
// stages are set up again for every run, including runs after an abort.
func (l *Lifecycle) Begin() {
	l.state = active
}

// Check returns error if operation is called in non-active state.
func (l *Lifecycle) Check(op string) error {
	switch l.state {
	case idle:
		return l.misuse(op, ErrNotSetup)
	case finalized:
		return l.misuse(op, ErrFinalized)
	}
	return nil
}

// End moves lifecycle into finalized state. It fails if stage is not active.
func (l *Lifecycle) End(op string) error {
	if err := l.Check(op); err != nil {
		return err
	}
	l.state = finalized
	return nil
}

// Active returns true if stage is set up and not finalized.
func (l *Lifecycle) Active() bool {
	return l.state == active
}

// Finalized returns true if stage is finalized.
func (l *Lifecycle) Finalized() bool {
	return l.state == finalized
}

func (l *Lifecycle) misuse(op string, err error) error {
	return &FinalizeMisuseError{Stage: l.Stage, Op: op, Err: err}
}
