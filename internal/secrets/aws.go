package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/aws/aws-sdk-go/service/secretsmanager/secretsmanageriface"

	"codemorph/pkg/domain"
)

// AWSProvider resolves secrets from AWS Secrets Manager. A name of the form
// "secret-id#key" treats the secret payload as a JSON object and returns the
// value under "key"; a bare name returns the raw secret string.
type AWSProvider struct {
	client secretsmanageriface.SecretsManagerAPI

	mu    sync.Mutex
	cache map[string]string
}

// NewAWSProvider builds a provider against the given region.
func NewAWSProvider(region string) (*AWSProvider, error) {
	cfg := aws.NewConfig()
	if strings.TrimSpace(region) != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return &AWSProvider{
		client: secretsmanager.New(sess),
		cache:  make(map[string]string),
	}, nil
}

// NewAWSProviderWithClient is used by tests to inject a fake client.
func NewAWSProviderWithClient(client secretsmanageriface.SecretsManagerAPI) *AWSProvider {
	return &AWSProvider{client: client, cache: make(map[string]string)}
}

func (p *AWSProvider) Get(ctx context.Context, name string) (string, error) {
	secretID, jsonKey := splitName(name)
	raw, err := p.fetch(ctx, secretID)
	if err != nil {
		return "", err
	}
	if jsonKey == "" {
		return raw, nil
	}
	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", fmt.Errorf("%w: secret %s is not a JSON object", domain.ErrCredential, secretID)
	}
	v, ok := payload[jsonKey]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: secret %s has no key %q", domain.ErrCredential, secretID, jsonKey)
	}
	return v, nil
}

func (p *AWSProvider) fetch(ctx context.Context, secretID string) (string, error) {
	p.mu.Lock()
	cached, ok := p.cache[secretID]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}
	out, err := p.client.GetSecretValueWithContext(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("%w: get secret %s: %v", domain.ErrCredential, secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("%w: secret %s has no string payload", domain.ErrCredential, secretID)
	}
	p.mu.Lock()
	p.cache[secretID] = *out.SecretString
	p.mu.Unlock()
	return *out.SecretString, nil
}

func splitName(name string) (secretID, jsonKey string) {
	if i := strings.IndexByte(name, '#'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
