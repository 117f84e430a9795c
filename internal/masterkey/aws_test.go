package masterkey

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// fakeSecretsManagerClient implements SecretsManagerAPI for testing.
type fakeSecretsManagerClient struct {
	secrets map[string]*secretsmanager.GetSecretValueOutput
	getErr  error
	list    []smtypes.SecretListEntry
	listErr error
}

func newFakeSecretsManagerClient() *fakeSecretsManagerClient {
	return &fakeSecretsManagerClient{secrets: make(map[string]*secretsmanager.GetSecretValueOutput)}
}

func (f *fakeSecretsManagerClient) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	out, ok := f.secrets[*params.SecretId]
	if !ok {
		msg := "secret not found"
		return nil, &smtypes.ResourceNotFoundException{Message: &msg}
	}
	return out, nil
}

func (f *fakeSecretsManagerClient) ListSecrets(_ context.Context, _ *secretsmanager.ListSecretsInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &secretsmanager.ListSecretsOutput{SecretList: f.list}, nil
}

func strPtr(s string) *string { return &s }

func TestAWSProvider_Name(t *testing.T) {
	p := NewAWSProviderWithClient(newFakeSecretsManagerClient(), "")
	if got := p.Name(); got != "aws" {
		t.Errorf("Name() = %v, want aws", got)
	}
}

func TestAWSProvider_SecretID(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		want   string
	}{
		{"", "db-password", "db-password"},
		{"prod/coordinator", "db-password", "prod/coordinator/db-password"},
	}
	for _, tt := range tests {
		p := NewAWSProviderWithClient(newFakeSecretsManagerClient(), tt.prefix)
		if got := p.secretID(tt.key); got != tt.want {
			t.Errorf("secretID(%q) with prefix %q = %v, want %v", tt.key, tt.prefix, got, tt.want)
		}
	}
}

func TestNewAWSProvider_RequiresRegion(t *testing.T) {
	_, err := NewAWSProvider(context.Background(), &Config{})
	if err == nil {
		t.Error("NewAWSProvider() should fail without a region")
	}
}

func TestAWSProvider_GetWithMetadata(t *testing.T) {
	created := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	fake := newFakeSecretsManagerClient()
	fake.secrets["test-key"] = &secretsmanager.GetSecretValueOutput{
		ARN:          strPtr("arn:aws:secretsmanager:us-east-1:123456789:secret:test-key"),
		Name:         strPtr("test-key"),
		SecretString: strPtr("my-secret-value"),
		VersionId:    strPtr("v1"),
		CreatedDate:  &created,
	}

	p := NewAWSProviderWithClient(fake, "")
	secret, err := p.GetWithMetadata(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("GetWithMetadata() error = %v", err)
	}

	if secret.Key != "test-key" {
		t.Errorf("Key = %v, want test-key", secret.Key)
	}
	if secret.Value != "my-secret-value" {
		t.Errorf("Value = %v, want my-secret-value", secret.Value)
	}
	if secret.Version != "v1" {
		t.Errorf("Version = %v, want v1", secret.Version)
	}
	if secret.Metadata["arn"] != "arn:aws:secretsmanager:us-east-1:123456789:secret:test-key" {
		t.Errorf("Metadata[arn] = %v, want arn value", secret.Metadata["arn"])
	}
	if !secret.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", secret.CreatedAt, created)
	}
}

func TestAWSProvider_GetWithPrefix(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	fake.secrets["prod/coordinator/db-password"] = &secretsmanager.GetSecretValueOutput{
		Name:         strPtr("prod/coordinator/db-password"),
		SecretString: strPtr("prefixed-secret"),
		VersionId:    strPtr("v1"),
	}

	p := NewAWSProviderWithClient(fake, "prod/coordinator")
	value, err := p.Get(context.Background(), "db-password")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "prefixed-secret" {
		t.Errorf("Get() = %v, want prefixed-secret", value)
	}
}

func TestAWSProvider_GetNotFound(t *testing.T) {
	p := NewAWSProviderWithClient(newFakeSecretsManagerClient(), "")

	_, err := p.Get(context.Background(), "nonexistent")
	if err != ErrSecretNotFound {
		t.Errorf("Get() error = %v, want ErrSecretNotFound", err)
	}
}

func TestAWSProvider_GetAccessDenied(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	msg := "access denied"
	fake.getErr = &smtypes.InvalidRequestException{Message: &msg}
	p := NewAWSProviderWithClient(fake, "")

	_, err := p.Get(context.Background(), "restricted")
	if err != ErrAuthFailed {
		t.Errorf("Get() error = %v, want ErrAuthFailed", err)
	}
}

func TestAWSProvider_GetServerError(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	fake.getErr = &smtypes.InternalServiceError{}
	p := NewAWSProviderWithClient(fake, "")

	_, err := p.Get(context.Background(), "any-key")
	if err == nil {
		t.Error("Get() should fail on server error")
	}
}

func TestAWSProvider_GetBinarySecret(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	fake.secrets["binary-key"] = &secretsmanager.GetSecretValueOutput{
		Name:         strPtr("binary-key"),
		SecretBinary: []byte("raw-binary-data"),
		VersionId:    strPtr("v1"),
	}
	p := NewAWSProviderWithClient(fake, "")

	value, err := p.Get(context.Background(), "binary-key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "raw-binary-data" {
		t.Errorf("Get() = %v, want raw-binary-data", value)
	}
}

func TestAWSProvider_List(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	fake.list = []smtypes.SecretListEntry{
		{ARN: strPtr("arn:1"), Name: strPtr("key1")},
		{ARN: strPtr("arn:2"), Name: strPtr("key2")},
	}
	p := NewAWSProviderWithClient(fake, "")

	keys, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List() returned %d keys, want 2", len(keys))
	}
}

func TestAWSProvider_ListWithPrefix(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	fake.list = []smtypes.SecretListEntry{
		{Name: strPtr("prod/coordinator/key1")},
		{Name: strPtr("prod/coordinator/key2")},
	}
	p := NewAWSProviderWithClient(fake, "prod/coordinator")

	keys, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(keys) != 2 {
		t.Fatalf("List() returned %d keys, want 2", len(keys))
	}
	if keys[0] != "key1" {
		t.Errorf("keys[0] = %v, want key1", keys[0])
	}
	if keys[1] != "key2" {
		t.Errorf("keys[1] = %v, want key2", keys[1])
	}
}

func TestAWSProvider_ListError(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	fake.listErr = &smtypes.InternalServiceError{}
	p := NewAWSProviderWithClient(fake, "")

	_, err := p.List(context.Background())
	if err == nil {
		t.Error("List() should fail on server error")
	}
}

func TestAWSProvider_Healthy(t *testing.T) {
	p := NewAWSProviderWithClient(newFakeSecretsManagerClient(), "")
	if !p.Healthy(context.Background()) {
		t.Error("Healthy() should return true when API is accessible")
	}
}

func TestAWSProvider_HealthyFailed(t *testing.T) {
	fake := newFakeSecretsManagerClient()
	fake.listErr = &smtypes.InternalServiceError{}
	p := NewAWSProviderWithClient(fake, "")

	if p.Healthy(context.Background()) {
		t.Error("Healthy() should return false when API returns an error")
	}
}

func TestAWSProvider_Close(t *testing.T) {
	p := NewAWSProviderWithClient(newFakeSecretsManagerClient(), "")
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
