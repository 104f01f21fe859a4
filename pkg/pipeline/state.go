package pipeline

import (
	"fmt"

	"github.com/example/estore/pkg/history"
)

// transitions is the legal state graph for one pipeline run. Every stage may
// fail directly to FAILED; VERIFYING additionally reaches SUCCEEDED even when
// the probe fails, because verification is a soft signal.
var transitions = map[history.State][]history.State{
	history.StatePending:   {history.StateBuilding, history.StateFailed},
	history.StateBuilding:  {history.StateImaging, history.StateFailed},
	history.StateImaging:   {history.StateDeploying, history.StateFailed},
	history.StateDeploying: {history.StateVerifying, history.StateFailed},
	history.StateVerifying: {history.StateSucceeded, history.StateFailed},
}

// Transition validates a state change. An invalid transition is a programming
// error in the pipeline driver, not an operational failure.
func Transition(from, to history.State) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}
