package security

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerFetcher fetches secrets from AWS Secrets Manager. Used at
// init to pull the JWT key set when JWT_KEYS_SECRET_ARN is configured.
type SecretsManagerFetcher struct {
	client *secretsmanager.Client
}

// NewSecretsManagerFetcher builds a fetcher for the given region using the
// default AWS credential chain.
func NewSecretsManagerFetcher(ctx context.Context, region string) (*SecretsManagerFetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &SecretsManagerFetcher{client: secretsmanager.NewFromConfig(awsCfg)}, nil
}

// FetchSecret returns the secret string for the given ARN.
func (f *SecretsManagerFetcher) FetchSecret(ctx context.Context, arn string) (string, error) {
	out, err := f.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &arn,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", arn)
	}
	return *out.SecretString, nil
}
