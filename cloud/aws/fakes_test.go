package aws

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
)

type fakeCloudFormation struct {
	cloudformationiface.CloudFormationAPI
	stacks map[string][]*cloudformation.StackResourceSummary
	err    error
	calls  int
}

func (f *fakeCloudFormation) ListStackResourcesPagesWithContext(
	ctx aws.Context,
	input *cloudformation.ListStackResourcesInput,
	fn func(*cloudformation.ListStackResourcesOutput, bool) bool,
	opts ...request.Option,
) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	resources := f.stacks[aws.StringValue(input.StackName)]
	// one summary per page to exercise paging
	for i, r := range resources {
		if !fn(&cloudformation.ListStackResourcesOutput{
			StackResourceSummaries: []*cloudformation.StackResourceSummary{r},
		}, i == len(resources)-1) {
			break
		}
	}
	return nil
}

type fakeAutoScaling struct {
	autoscalingiface.AutoScalingAPI
	groups []*autoscaling.Group
	err    error
	calls  int
}

func (f *fakeAutoScaling) DescribeAutoScalingGroupsPagesWithContext(
	ctx aws.Context,
	input *autoscaling.DescribeAutoScalingGroupsInput,
	fn func(*autoscaling.DescribeAutoScalingGroupsOutput, bool) bool,
	opts ...request.Option,
) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	names := make(map[string]bool)
	for _, n := range input.AutoScalingGroupNames {
		names[aws.StringValue(n)] = true
	}
	var out []*autoscaling.Group
	for _, g := range f.groups {
		if len(names) == 0 || names[aws.StringValue(g.AutoScalingGroupName)] {
			out = append(out, g)
		}
	}
	fn(&autoscaling.DescribeAutoScalingGroupsOutput{AutoScalingGroups: out}, true)
	return nil
}

type fakeEC2 struct {
	ec2iface.EC2API
	instances []*ec2.Instance
	err       error
	calls     int
	requested []string
}

func (f *fakeEC2) DescribeInstancesPagesWithContext(
	ctx aws.Context,
	input *ec2.DescribeInstancesInput,
	fn func(*ec2.DescribeInstancesOutput, bool) bool,
	opts ...request.Option,
) error {
	f.calls++
	f.requested = aws.StringValueSlice(input.InstanceIds)
	if f.err != nil {
		return f.err
	}
	wanted := make(map[string]bool)
	for _, id := range f.requested {
		wanted[id] = true
	}
	var matched []*ec2.Instance
	for _, i := range f.instances {
		if wanted[aws.StringValue(i.InstanceId)] {
			matched = append(matched, i)
		}
	}
	fn(&ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{Instances: matched}},
	}, true)
	return nil
}

func stackResource(resourceType, physicalID string) *cloudformation.StackResourceSummary {
	return &cloudformation.StackResourceSummary{
		ResourceType:       aws.String(resourceType),
		PhysicalResourceId: aws.String(physicalID),
	}
}

func scalingGroup(name string, instanceIDs ...string) *autoscaling.Group {
	g := &autoscaling.Group{AutoScalingGroupName: aws.String(name)}
	for _, id := range instanceIDs {
		g.Instances = append(g.Instances, &autoscaling.Instance{InstanceId: aws.String(id)})
	}
	return g
}

func instance(id, publicIP string) *ec2.Instance {
	i := &ec2.Instance{InstanceId: aws.String(id)}
	if publicIP != "" {
		i.PublicIpAddress = aws.String(publicIP)
	}
	return i
}
