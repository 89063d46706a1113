package aws

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/autoscaling"
	"github.com/aws/aws-sdk-go/service/autoscaling/autoscalingiface"
	"github.com/aws/aws-sdk-go/service/cloudformation"
	"github.com/aws/aws-sdk-go/service/cloudformation/cloudformationiface"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/pkg/errors"
)

// Sessions binds a credential profile to lazily created API handles, one set per region.
// Handles are reused for the lifetime of the Sessions value and it is safe for concurrent use.
type Sessions struct {
	profile string
	region  string

	newSession func(profile, region string) (client.ConfigProvider, error)

	mu       sync.Mutex
	byRegion map[string]*regionHandles
}

type regionHandles struct {
	provider       client.ConfigProvider
	cloudFormation cloudformationiface.CloudFormationAPI
	autoScaling    autoscalingiface.AutoScalingAPI
	ec2            ec2iface.EC2API
}

// NewSessions creates a connection context for a profile.
// region may be empty, in which case the profile's own region configuration applies
// unless a region is given per call.
func NewSessions(profile, region string) *Sessions {
	return &Sessions{
		profile:    profile,
		region:     region,
		newSession: sharedConfigSession,
		byRegion:   make(map[string]*regionHandles),
	}
}

func sharedConfigSession(profile, region string) (client.ConfigProvider, error) {
	opts := session.Options{
		Profile:           profile,
		SharedConfigState: session.SharedConfigEnable,
	}
	if region != "" {
		opts.Config.Region = aws.String(region)
	}
	return session.NewSessionWithOptions(opts)
}

// Profile returns the credential profile the sessions are bound to
func (s *Sessions) Profile() string {
	return s.profile
}

// handles returns the handle set for a region, creating its session on first use.
// s.mu must be held.
func (s *Sessions) handles(region string) (*regionHandles, error) {
	if region == "" {
		region = s.region
	}
	if h, ok := s.byRegion[region]; ok {
		return h, nil
	}

	provider, err := s.newSession(s.profile, region)
	if err != nil {
		return nil, errors.Wrapf(err, "aws: profile:%s region:%s failed to create session", s.profile, region)
	}
	h := &regionHandles{provider: provider}
	s.byRegion[region] = h
	return h, nil
}

// CloudFormation returns the stack introspection API for a region
func (s *Sessions) CloudFormation(region string) (cloudformationiface.CloudFormationAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.handles(region)
	if err != nil {
		return nil, err
	}
	if h.cloudFormation == nil {
		h.cloudFormation = cloudformation.New(h.provider)
	}
	return h.cloudFormation, nil
}

// AutoScaling returns the autoscaling introspection API for a region
func (s *Sessions) AutoScaling(region string) (autoscalingiface.AutoScalingAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.handles(region)
	if err != nil {
		return nil, err
	}
	if h.autoScaling == nil {
		h.autoScaling = autoscaling.New(h.provider)
	}
	return h.autoScaling, nil
}

// EC2 returns the compute introspection API for a region
func (s *Sessions) EC2(region string) (ec2iface.EC2API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.handles(region)
	if err != nil {
		return nil, err
	}
	if h.ec2 == nil {
		h.ec2 = ec2.New(h.provider)
	}
	return h.ec2, nil
}

// Clients returns a resolver for a region backed by the shared handles
func (s *Sessions) Clients(region string, opts ...Option) (*Clients, error) {
	cf, err := s.CloudFormation(region)
	if err != nil {
		return nil, err
	}
	as, err := s.AutoScaling(region)
	if err != nil {
		return nil, err
	}
	ec, err := s.EC2(region)
	if err != nil {
		return nil, err
	}
	return newClients(cf, as, ec, opts...), nil
}
