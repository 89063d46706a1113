package cloud

import (
	"context"
	"sort"
)

// ScalingGroupResourceType is the CloudFormation resource type of an autoscaling group
const ScalingGroupResourceType = "AWS::AutoScaling::AutoScalingGroup"

// Resolver is the abstract representation of the capabilities needed to find a stack's fleet
type Resolver interface {
	ResolveInstanceAddresses(ctx context.Context, stack string) ([]string, error)
}

// StackResource is a single resource managed by a stack
type StackResource struct {
	Type       string
	PhysicalID string
}

// ScalingGroup is a snapshot of an autoscaling group and its members
type ScalingGroup struct {
	ID          string
	InstanceIDs []string
}

// Instance is a compute instance and its public address, if it has one
type Instance struct {
	ID            string
	PublicAddress string
}

// SelectionPolicy decides what happens when a stack holds more than one scaling group
type SelectionPolicy int

const (
	// PolicyLowest picks the scaling group with the lowest physical id
	PolicyLowest SelectionPolicy = iota
	// PolicyStrict refuses to pick and returns an AmbiguousScalingGroup error
	PolicyStrict
)

// Selection is the result of picking the scaling group out of a stack's resources
type Selection struct {
	GroupID string
	// Candidates holds every scaling group id found, sorted; more than one means the pick was ambiguous
	Candidates []string
}

// Ambiguous reports whether more than one scaling group was found
func (s Selection) Ambiguous() bool {
	return len(s.Candidates) > 1
}

// SelectScalingGroup scans the resources of a stack for its autoscaling group
func SelectScalingGroup(stack string, resources []StackResource, policy SelectionPolicy) (Selection, error) {
	var candidates []string
	for _, r := range resources {
		if r.Type == ScalingGroupResourceType && r.PhysicalID != "" {
			candidates = append(candidates, r.PhysicalID)
		}
	}

	switch {
	case len(candidates) == 0:
		return Selection{}, &ResolutionError{Stack: stack, Kind: NoScalingGroup}
	case len(candidates) > 1 && policy == PolicyStrict:
		sort.Strings(candidates)
		return Selection{}, &ResolutionError{Stack: stack, Kind: AmbiguousScalingGroup, Candidates: candidates}
	}

	sort.Strings(candidates)
	return Selection{GroupID: candidates[0], Candidates: candidates}, nil
}
