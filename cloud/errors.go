package cloud

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ResolutionErrorKind names the structural problem found while resolving a stack
type ResolutionErrorKind int

const (
	// NoScalingGroup means the stack holds no autoscaling group resource
	NoScalingGroup ResolutionErrorKind = iota + 1
	// AmbiguousScalingGroup means the stack holds several autoscaling groups and none was picked
	AmbiguousScalingGroup
)

func (k ResolutionErrorKind) String() string {
	switch k {
	case NoScalingGroup:
		return "NoScalingGroup"
	case AmbiguousScalingGroup:
		return "AmbiguousScalingGroup"
	default:
		return fmt.Sprintf("ResolutionErrorKind(%d)", int(k))
	}
}

// ResolutionError is returned when a stack cannot be mapped to exactly one scaling group.
// Retrying will not fix it.
type ResolutionError struct {
	Stack      string
	Kind       ResolutionErrorKind
	Candidates []string
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case NoScalingGroup:
		return fmt.Sprintf("stack:%s has no %s resource", e.Stack, ScalingGroupResourceType)
	case AmbiguousScalingGroup:
		return fmt.Sprintf("stack:%s has %d %s resources (%s)",
			e.Stack, len(e.Candidates), ScalingGroupResourceType, strings.Join(e.Candidates, ", "))
	default:
		return fmt.Sprintf("stack:%s cannot be resolved: %s", e.Stack, e.Kind)
	}
}

// IsResolutionError reports whether err, or anything it wraps, is a ResolutionError
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// AddressResolutionError is returned when some instances have no public address.
// Their readiness cannot be assessed.
type AddressResolutionError struct {
	InstanceIDs []string
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("no public address for instances: %s", strings.Join(e.InstanceIDs, ", "))
}
