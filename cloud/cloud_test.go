package cloud

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectScalingGroup(t *testing.T) {
	tests := []struct {
		name      string
		resources []StackResource
		policy    SelectionPolicy
		want      string
		ambiguous bool
		errKind   ResolutionErrorKind
	}{
		{
			name: "single group",
			resources: []StackResource{
				{Type: "AWS::EC2::SecurityGroup", PhysicalID: "sg-0abc"},
				{Type: ScalingGroupResourceType, PhysicalID: "some-resource-id"},
			},
			want: "some-resource-id",
		},
		{
			name:      "no group",
			resources: []StackResource{{Type: "AWS::S3::Bucket", PhysicalID: "bucket"}},
			errKind:   NoScalingGroup,
		},
		{
			name:    "empty stack",
			errKind: NoScalingGroup,
		},
		{
			name:      "group not yet created",
			resources: []StackResource{{Type: ScalingGroupResourceType}},
			errKind:   NoScalingGroup,
		},
		{
			name: "several groups picks lowest",
			resources: []StackResource{
				{Type: ScalingGroupResourceType, PhysicalID: "web-b"},
				{Type: ScalingGroupResourceType, PhysicalID: "web-a"},
			},
			want:      "web-a",
			ambiguous: true,
		},
		{
			name: "several groups strict",
			resources: []StackResource{
				{Type: ScalingGroupResourceType, PhysicalID: "web-b"},
				{Type: ScalingGroupResourceType, PhysicalID: "web-a"},
			},
			policy:  PolicyStrict,
			errKind: AmbiguousScalingGroup,
		},
		{
			name:      "strict with one group",
			resources: []StackResource{{Type: ScalingGroupResourceType, PhysicalID: "web-a"}},
			policy:    PolicyStrict,
			want:      "web-a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectScalingGroup("app-dev", tt.resources, tt.policy)
			if tt.errKind != 0 {
				var re *ResolutionError
				require.True(t, errors.As(err, &re), "expected ResolutionError, got %v", err)
				assert.Equal(t, tt.errKind, re.Kind)
				assert.Equal(t, "app-dev", re.Stack)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.GroupID)
			assert.Equal(t, tt.ambiguous, got.Ambiguous())
		})
	}
}

func TestResolutionError(t *testing.T) {
	err := errors.Wrap(&ResolutionError{Stack: "app-dev", Kind: NoScalingGroup}, "poll")
	assert.True(t, IsResolutionError(err))
	assert.Contains(t, err.Error(), "stack:app-dev has no AWS::AutoScaling::AutoScalingGroup resource")

	amb := &ResolutionError{Stack: "app-dev", Kind: AmbiguousScalingGroup, Candidates: []string{"a", "b"}}
	assert.Equal(t, "stack:app-dev has 2 AWS::AutoScaling::AutoScalingGroup resources (a, b)", amb.Error())
	assert.Equal(t, "AmbiguousScalingGroup", amb.Kind.String())

	assert.False(t, IsResolutionError(errors.New("throttled")))
	assert.False(t, IsResolutionError(&AddressResolutionError{InstanceIDs: []string{"i-1"}}))
}
