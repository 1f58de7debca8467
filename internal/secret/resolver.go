// Package secret resolves deployment secrets such as the OAuth client secret
// and the sign-in state key, from SSM Parameter Store or the environment.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Source names accepted by New.
const (
	SourceEnv = "env"
	SourceSSM = "ssm"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by parameter name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// New returns the resolver for source. The SSM client is built from the
// default AWS configuration chain.
func New(ctx context.Context, source string) (Resolver, error) {
	switch source {
	case "", SourceEnv:
		return NewEnvResolver(), nil
	case SourceSSM:
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return NewCached(NewSSMResolver(ssm.NewFromConfig(cfg))), nil
	default:
		return nil, fmt.Errorf("unknown secret source %q", source)
	}
}

// SSMResolver fetches SecureString parameters from Parameter Store.
type SSMResolver struct {
	client SSMClient
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client}
}

// GetSecret retrieves a parameter with decryption.
func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	return *out.Parameter.Value, nil
}

// EnvResolver reads secrets from environment variables. A parameter such as
// "/collab/oauth-client-secret" maps to COLLAB_OAUTH_CLIENT_SECRET.
type EnvResolver struct {
	lookup func(string) (string, bool)
}

// NewEnvResolver returns a Resolver over the process environment.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{lookup: os.LookupEnv}
}

// GetSecret reads the variable derived from name.
func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := EnvVarName(name)
	val, ok := r.lookup(envName)
	if !ok || val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

// EnvVarName converts a parameter path to an environment variable name by
// joining its segments with underscores.
//
//	"/collab/state-secret" -> "COLLAB_STATE_SECRET"
func EnvVarName(name string) string {
	segments := strings.FieldsFunc(name, func(r rune) bool { return r == '/' })
	joined := strings.Join(segments, "_")
	return strings.ToUpper(strings.ReplaceAll(joined, "-", "_"))
}

// Cached memoizes successful lookups of another Resolver. Failures are not
// cached.
type Cached struct {
	next Resolver

	mu     sync.Mutex
	values map[string]string
}

// NewCached wraps next.
func NewCached(next Resolver) *Cached {
	return &Cached{next: next, values: make(map[string]string)}
}

func (c *Cached) GetSecret(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	v, ok := c.values[name]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := c.next.GetSecret(ctx, name)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.values[name] = v
	c.mu.Unlock()
	return v, nil
}
