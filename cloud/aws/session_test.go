package aws

import (
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionRecorder struct {
	mu      sync.Mutex
	regions []string
	err     error
}

func (r *sessionRecorder) newSession(profile, region string) (client.ConfigProvider, error) {
	r.mu.Lock()
	r.regions = append(r.regions, region)
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if region == "" {
		region = "eu-west-1"
	}
	return session.NewSession(&aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials("id", "secret", ""),
	})
}

func newTestSessions(profile, region string) (*Sessions, *sessionRecorder) {
	rec := &sessionRecorder{}
	s := NewSessions(profile, region)
	s.newSession = rec.newSession
	return s, rec
}

func TestSessions_LazyAndReused(t *testing.T) {
	s, rec := newTestSessions("dev", "eu-west-1")
	assert.Empty(t, rec.regions, "no session before first use")

	cf1, err := s.CloudFormation("")
	require.NoError(t, err)
	cf2, err := s.CloudFormation("eu-west-1")
	require.NoError(t, err)
	assert.Same(t, cf1, cf2)

	as1, err := s.AutoScaling("")
	require.NoError(t, err)
	as2, err := s.AutoScaling("")
	require.NoError(t, err)
	assert.Same(t, as1, as2)

	ec1, err := s.EC2("")
	require.NoError(t, err)
	ec2, err := s.EC2("")
	require.NoError(t, err)
	assert.Same(t, ec1, ec2)

	assert.Equal(t, []string{"eu-west-1"}, rec.regions)
}

func TestSessions_PerCallRegion(t *testing.T) {
	s, rec := newTestSessions("dev", "")

	west, err := s.EC2("eu-west-1")
	require.NoError(t, err)
	east, err := s.EC2("us-east-1")
	require.NoError(t, err)
	assert.NotSame(t, west, east)

	_, err = s.EC2("us-east-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"eu-west-1", "us-east-1"}, rec.regions)
}

func TestSessions_Clients(t *testing.T) {
	s, rec := newTestSessions("dev", "eu-west-1")

	c, err := s.Clients("")
	require.NoError(t, err)
	require.NotNil(t, c)

	cf, _ := s.CloudFormation("")
	assert.Same(t, cf, c.cloudFormation)
	assert.Len(t, rec.regions, 1)
	assert.Equal(t, "dev", s.Profile())
}

func TestSessions_Concurrent(t *testing.T) {
	s, rec := newTestSessions("dev", "eu-west-1")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Clients("")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, rec.regions, 1)
}

func TestSessions_Error(t *testing.T) {
	s, rec := newTestSessions("missing", "eu-west-1")
	rec.err = errors.New("profile not found")

	_, err := s.Clients("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile:missing")
}
