// Package almaerr defines the typed error taxonomy that every ALMA
// component returns, so callers can distinguish failure classes with
// errors.As instead of matching on message text.
package almaerr

import "fmt"

// BadTarget is returned when the requested provisioning target (whole
// disk, partition pair, or image) fails validation.
type BadTarget struct {
	Path   string
	Reason string
}

func (e *BadTarget) Error() string {
	return fmt.Sprintf("bad target %q: %s", e.Path, e.Reason)
}

// MissingHostTool is returned at startup when a required external
// executable cannot be found on PATH.
type MissingHostTool struct {
	Name string
}

func (e *MissingHostTool) Error() string {
	return fmt.Sprintf("missing host tool %q", e.Name)
}

// MissingEnvironment is returned when a preset declares an environment
// variable that is absent from the process environment.
type MissingEnvironment struct {
	Var string
}

func (e *MissingEnvironment) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Var)
}

// PresetParse is returned when a preset TOML file fails strict decoding.
type PresetParse struct {
	Path string
	Err  error
}

func (e *PresetParse) Error() string {
	return fmt.Sprintf("parsing preset %q: %s", e.Path, e.Err)
}

func (e *PresetParse) Unwrap() error { return e.Err }

// PresetFetch is returned when acquiring a remote preset source fails.
type PresetFetch struct {
	Source string
	Err    error
}

func (e *PresetFetch) Error() string {
	return fmt.Sprintf("fetching preset source %q: %s", e.Source, e.Err)
}

func (e *PresetFetch) Unwrap() error { return e.Err }

// PartitionNotSettled is returned when a partition device node fails to
// appear within the settle timeout.
type PartitionNotSettled struct {
	Device string
}

func (e *PartitionNotSettled) Error() string {
	return fmt.Sprintf("partition device %q did not settle in time", e.Device)
}

// CommandFailed is returned by the command runner when a child process
// exits non-zero.
type CommandFailed struct {
	Argv       []string
	Exit       int
	StderrTail string
}

func (e *CommandFailed) Error() string {
	return fmt.Sprintf("command %v exited %d: %s", e.Argv, e.Exit, e.StderrTail)
}

// MountFailed is returned when mounting or unmounting a filesystem fails.
type MountFailed struct {
	Source string
	Target string
	Err    error
}

func (e *MountFailed) Error() string {
	return fmt.Sprintf("mounting %q at %q: %s", e.Source, e.Target, e.Err)
}

func (e *MountFailed) Unwrap() error { return e.Err }

// LuksFailed is returned when a cryptsetup operation fails.
type LuksFailed struct {
	Op  string
	Err error
}

func (e *LuksFailed) Error() string {
	return fmt.Sprintf("luks %s: %s", e.Op, e.Err)
}

func (e *LuksFailed) Unwrap() error { return e.Err }

// ManifestRead is returned when the persisted manifest cannot be read or
// decoded.
type ManifestRead struct {
	Path string
	Err  error
}

func (e *ManifestRead) Error() string {
	return fmt.Sprintf("reading manifest %q: %s", e.Path, e.Err)
}

func (e *ManifestRead) Unwrap() error { return e.Err }

// Cancelled is returned when a signal aborted the current invocation.
type Cancelled struct {
	Step string
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("cancelled while %s", e.Step)
}

// Internal wraps an error that should never happen in correct operation.
type Internal struct {
	Err error
}

func (e *Internal) Error() string {
	return fmt.Sprintf("internal error: %s", e.Err)
}

func (e *Internal) Unwrap() error { return e.Err }

// Step wraps an error with the breadcrumb of the pipeline step in which
// it occurred, per the single-root-cause-plus-breadcrumb contract.
type Step struct {
	Name string
	Err  error
}

func (e *Step) Error() string {
	return fmt.Sprintf("while %s: %s", e.Name, e.Err)
}

func (e *Step) Unwrap() error { return e.Err }

// Wrap attaches a step breadcrumb to err, or returns nil if err is nil.
func Wrap(step string, err error) error {
	if err == nil {
		return nil
	}
	return &Step{Name: step, Err: err}
}
