package masterkey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client this
// provider depends on, narrowed the same way the snapshot store narrows
// S3 to PutObject/GetObject/DeleteObject, so tests can supply a fake
// without talking to AWS.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSProvider sources the envelope-encryption master key (or any other
// deployment secret) from AWS Secrets Manager, reusing the AWS SDK's
// standard credential chain (environment, shared config, instance
// profile, IRSA) rather than handling credentials itself.
type AWSProvider struct {
	client       SecretsManagerAPI
	secretPrefix string
}

// NewAWSProvider creates a new AWS Secrets Manager provider.
func NewAWSProvider(ctx context.Context, cfg *Config) (*AWSProvider, error) {
	if cfg.AWSRegion == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewAWSProviderWithClient(secretsmanager.NewFromConfig(awsCfg), cfg.AWSSecretPrefix), nil
}

// NewAWSProviderWithClient builds an AWSProvider around an existing
// Secrets Manager client, letting tests substitute a fake implementing
// SecretsManagerAPI.
func NewAWSProviderWithClient(client SecretsManagerAPI, secretPrefix string) *AWSProvider {
	return &AWSProvider{client: client, secretPrefix: secretPrefix}
}

// Name returns the provider name.
func (p *AWSProvider) Name() string {
	return "aws"
}

func (p *AWSProvider) secretID(key string) string {
	if p.secretPrefix == "" {
		return key
	}
	return p.secretPrefix + "/" + key
}

// Get retrieves a secret from AWS Secrets Manager.
func (p *AWSProvider) Get(ctx context.Context, key string) (string, error) {
	secret, err := p.GetWithMetadata(ctx, key)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}

// GetWithMetadata retrieves a secret with metadata from AWS Secrets Manager.
func (p *AWSProvider) GetWithMetadata(ctx context.Context, key string) (*Secret, error) {
	secretID := p.secretID(key)

	out, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &secretID,
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, ErrSecretNotFound
		}
		var denied *smtypes.InvalidRequestException
		if errors.As(err, &denied) {
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("AWS Secrets Manager request failed: %w", err)
	}

	value := ""
	if out.SecretString != nil {
		value = *out.SecretString
	} else if out.SecretBinary != nil {
		value = string(out.SecretBinary)
	}

	secret := &Secret{
		Key:   key,
		Value: value,
		Metadata: map[string]string{
			"arn":  deref(out.ARN),
			"name": deref(out.Name),
		},
	}
	if out.VersionId != nil {
		secret.Version = *out.VersionId
	}
	if out.CreatedDate != nil {
		secret.CreatedAt = *out.CreatedDate
	}

	return secret, nil
}

// List returns available secret keys from AWS Secrets Manager.
func (p *AWSProvider) List(ctx context.Context) ([]string, error) {
	input := &secretsmanager.ListSecretsInput{}
	if p.secretPrefix != "" {
		input.Filters = []smtypes.Filter{
			{Key: smtypes.FilterNameStringTypeName, Values: []string{p.secretPrefix}},
		}
	}

	var keys []string
	paginator := secretsmanager.NewListSecretsPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("AWS Secrets Manager list failed: %w", err)
		}
		for _, s := range page.SecretList {
			name := deref(s.Name)
			if p.secretPrefix != "" {
				name = strings.TrimPrefix(name, p.secretPrefix+"/")
			}
			keys = append(keys, name)
		}
	}

	return keys, nil
}

// Close releases resources. The SDK client owns no resources that need
// explicit teardown.
func (p *AWSProvider) Close() error {
	return nil
}

// Healthy checks if AWS Secrets Manager is reachable with current credentials.
func (p *AWSProvider) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	one := int32(1)
	_, err := p.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: &one})
	return err == nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
