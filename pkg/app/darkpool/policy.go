package darkpool

import "fmt"

// DeactivationPolicy decides which orders are switched off once the cluster
// answers a job. Only DeactivateOnAttempted touches orders on an aborted
// callback; timeouts and cluster rejections never do, since no result came back.
type DeactivationPolicy string

const (
	// DeactivateOnExecuted deactivates both orders only when the trade executed.
	DeactivateOnExecuted DeactivationPolicy = "executed"
	// DeactivateOnCompleted deactivates both orders on any verified result.
	DeactivateOnCompleted DeactivationPolicy = "completed"
	// DeactivateOnAttempted also deactivates both orders when a callback
	// aborts the job, whether it reported failure or failed verification.
	DeactivateOnAttempted DeactivationPolicy = "attempted"
	DeactivateNever       DeactivationPolicy = "never"
)

func ParseDeactivationPolicy(s string) (DeactivationPolicy, error) {
	switch p := DeactivationPolicy(s); p {
	case DeactivateOnExecuted, DeactivateOnCompleted, DeactivateOnAttempted, DeactivateNever:
		return p, nil
	case "":
		return DeactivateOnCompleted, nil
	default:
		return "", fmt.Errorf("unknown deactivation policy %q", s)
	}
}

func (p DeactivationPolicy) deactivates(executed bool) bool {
	switch p {
	case DeactivateOnExecuted:
		return executed
	case DeactivateNever:
		return false
	default:
		return true
	}
}

func (p DeactivationPolicy) deactivatesOnAbort() bool { return p == DeactivateOnAttempted }
