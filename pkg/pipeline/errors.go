package pipeline

import "fmt"

// Class names the error taxonomy a run can surface. Fatal classes abort the
// run; warning classes ride along a successful exit.
type Class string

const (
	// BuildFailure: compile or packaging error, fatal before containerization.
	BuildFailure Class = "BuildFailure"
	// ImageFailure: ambiguous or missing artifact selection, fatal.
	ImageFailure Class = "ImageFailure"
	// DeployFailure: missing image, port conflict, or start failure, fatal.
	DeployFailure Class = "DeployFailure"
	// VerifyWarning: post-start probe failure, non-fatal degraded success.
	VerifyWarning Class = "VerifyWarning"
	// CleanupWarning: reclaim failure, non-fatal, logged only.
	CleanupWarning Class = "CleanupWarning"
)

// StageFailure is a fatal stage error carrying the stage's captured output so
// the operator gets the full diagnostics of the failed step.
type StageFailure struct {
	Class  Class
	Stage  string
	Output string
	Err    error
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("%s at stage %s: %v", f.Class, f.Stage, f.Err)
}

func (f *StageFailure) Unwrap() error {
	return f.Err
}
