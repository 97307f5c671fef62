// Package parameters reads deployment parameters from AWS Systems Manager
// Parameter Store.
package parameters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"go.uber.org/zap"
)

// Store looks up a single parameter by name. A missing parameter is reported
// with found == false and a nil error.
type Store interface {
	Get(ctx context.Context, name string) (value string, found bool, err error)
}

// UserPoolRefPath is where the deployment's user pool id is published.
func UserPoolRefPath(deploymentID string) string {
	return fmt.Sprintf("/%s/auth/user_pool_ref", deploymentID)
}

// ClientIDPath is where a frontend service's app client id is published.
func ClientIDPath(deploymentID, service string) string {
	return fmt.Sprintf("/%s/cdn/%s/auth_user_pool_client_id", deploymentID, service)
}

// SSMAPI is the subset of the SSM client used by SSMStore
type SSMAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMStore reads parameters from SSM Parameter Store
type SSMStore struct {
	client SSMAPI
	logger *zap.Logger
}

// NewSSMStore creates a store backed by an SSM client in the given region,
// using the default AWS credential chain.
func NewSSMStore(ctx context.Context, region string, logger *zap.Logger) (*SSMStore, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if region != "" {
		loaders = append(loaders, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSSMStoreWithClient(ssm.NewFromConfig(cfg), logger), nil
}

// NewSSMStoreWithClient wraps an existing SSM client
func NewSSMStoreWithClient(client SSMAPI, logger *zap.Logger) *SSMStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSMStore{client: client, logger: logger}
}

// Get implements Store
func (s *SSMStore) Get(ctx context.Context, name string) (string, bool, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			s.logger.Warn("parameter not found", zap.String("name", name))
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", false, nil
	}
	return aws.ToString(out.Parameter.Value), true, nil
}

// MemoryStore is an in-process Store for local development and tests
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a store holding the given parameters
func NewMemoryStore(values map[string]string) *MemoryStore {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &MemoryStore{values: copied}
}

// Set stores a parameter
func (m *MemoryStore) Set(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok, nil
}
