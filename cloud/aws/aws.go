package aws

import (
	"context"

	"code.justin.tv/safety/fleetwait/cloud"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Clients resolves a stack to the public addresses of its fleet
type Clients struct {
	cloudFormation cloudformationiface.CloudFormationAPI
	autoScaling    autoscalingiface.AutoScalingAPI
	ec2            ec2iface.EC2API
	policy         cloud.SelectionPolicy
}

var _ cloud.Resolver = (*Clients)(nil)

// Option configures Clients
type Option func(*Clients)

// WithSelectionPolicy sets how a stack with several scaling groups is handled
func WithSelectionPolicy(policy cloud.SelectionPolicy) Option {
	return func(c *Clients) {
		c.policy = policy
	}
}

func newClients(
	cf cloudformationiface.CloudFormationAPI,
	as autoscalingiface.AutoScalingAPI,
	ec ec2iface.EC2API,
	opts ...Option,
) *Clients {
	c := &Clients{
		cloudFormation: cf,
		autoScaling:    as,
		ec2:            ec,
		policy:         cloud.PolicyLowest,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListStackResources lists every resource managed by a stack
func (c *Clients) ListStackResources(ctx context.Context, stack string) ([]cloud.StackResource, error) {
	var resources []cloud.StackResource
	err := c.cloudFormation.ListStackResourcesPagesWithContext(ctx, &cloudformation.ListStackResourcesInput{
		StackName: aws.String(stack),
	}, func(output *cloudformation.ListStackResourcesOutput, lastPage bool) bool {
		for _, summary := range output.StackResourceSummaries {
			resources = append(resources, cloud.StackResource{
				Type:       aws.StringValue(summary.ResourceType),
				PhysicalID: aws.StringValue(summary.PhysicalResourceId),
			})
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "aws: stack:%s failed to list stack resources", stack)
	}
	return resources, nil
}

// FindScalingGroupID finds the physical id of the autoscaling group a stack manages
func (c *Clients) FindScalingGroupID(ctx context.Context, stack string) (string, error) {
	resources, err := c.ListStackResources(ctx, stack)
	if err != nil {
		return "", err
	}

	selection, err := cloud.SelectScalingGroup(stack, resources, c.policy)
	if err != nil {
		return "", err
	}
	if selection.Ambiguous() {
		log.Warn().
			Str("stack", stack).
			Strs("candidates", selection.Candidates).
			Str("selected", selection.GroupID).
			Msg("stack has more than one autoscaling group, using the lowest id")
	}
	return selection.GroupID, nil
}

// FindGroupInstanceIDs returns the instances currently in a scaling group.
// A group that does not exist or has no instances yields an empty fleet.
func (c *Clients) FindGroupInstanceIDs(ctx context.Context, groupID string) ([]string, error) {
	group, err := c.describeScalingGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		log.Debug().Str("asg", groupID).Msg("autoscaling group not found")
		return nil, nil
	}
	return group.InstanceIDs, nil
}

func (c *Clients) describeScalingGroup(ctx context.Context, groupID string) (*cloud.ScalingGroup, error) {
	var found *cloud.ScalingGroup
	err := c.autoScaling.DescribeAutoScalingGroupsPagesWithContext(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: aws.StringSlice([]string{groupID}),
	}, func(output *autoscaling.DescribeAutoScalingGroupsOutput, lastPage bool) bool {
		for _, group := range output.AutoScalingGroups {
			if aws.StringValue(group.AutoScalingGroupName) != groupID {
				continue
			}
			found = &cloud.ScalingGroup{ID: groupID}
			for _, instance := range group.Instances {
				found.InstanceIDs = append(found.InstanceIDs, aws.StringValue(instance.InstanceId))
			}
			return false
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrapf(err, "aws: asg:%s failed to describe autoscaling group", groupID)
	}
	return found, nil
}

// DescribeInstances looks up the public address of each instance id
func (c *Clients) DescribeInstances(ctx context.Context, instanceIDs []string) ([]cloud.Instance, error) {
	if len(instanceIDs) == 0 {
		return nil, nil
	}

	byID := make(map[string]string, len(instanceIDs))
	err := c.ec2.DescribeInstancesPagesWithContext(ctx,
		&ec2.DescribeInstancesInput{InstanceIds: aws.StringSlice(instanceIDs)},
		func(output *ec2.DescribeInstancesOutput, lastPage bool) bool {
			for _, reservation := range output.Reservations {
				for _, instance := range reservation.Instances {
					byID[aws.StringValue(instance.InstanceId)] = aws.StringValue(instance.PublicIpAddress)
				}
			}
			return true
		})
	if err != nil {
		return nil, errors.Wrap(err, "aws: failed to describe ec2 instances")
	}

	instances := make([]cloud.Instance, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		instances = append(instances, cloud.Instance{ID: id, PublicAddress: byID[id]})
	}
	return instances, nil
}

// ResolveAddresses maps instance ids to public addresses.
// Instances without a public address are reported with an AddressResolutionError
// alongside the addresses that did resolve.
func (c *Clients) ResolveAddresses(ctx context.Context, instanceIDs []string) ([]string, error) {
	instances, err := c.DescribeInstances(ctx, instanceIDs)
	if err != nil {
		return nil, err
	}

	var addresses, missing []string
	for _, instance := range instances {
		if instance.PublicAddress == "" {
			missing = append(missing, instance.ID)
			continue
		}
		addresses = append(addresses, instance.PublicAddress)
	}
	if len(missing) > 0 {
		return addresses, &cloud.AddressResolutionError{InstanceIDs: missing}
	}
	return addresses, nil
}

// ResolveInstanceAddresses resolves a stack to the public addresses of its current fleet.
// Nothing is cached between calls.
func (c *Clients) ResolveInstanceAddresses(ctx context.Context, stack string) ([]string, error) {
	groupID, err := c.FindScalingGroupID(ctx, stack)
	if err != nil {
		return nil, err
	}

	instanceIDs, err := c.FindGroupInstanceIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("stack", stack).Str("asg", groupID).Strs("instances", instanceIDs).Msg("resolved fleet")
	return c.ResolveAddresses(ctx, instanceIDs)
}
