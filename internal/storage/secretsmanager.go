package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsManagerAPI defines the Secrets Manager operations used by the token store.
type SecretsManagerAPI interface {
	// GetSecretValue retrieves a secret value.
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	// PutSecretValue stores a secret value.
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// secretPayload is the JSON form of the secret.
type secretPayload struct {
	RefreshToken string `json:"refresh_token"`
}

// SecretsManagerTokenStore keeps the OAuth refresh token in AWS Secrets Manager.
// The secret may hold either the bare token or a JSON object with a refresh_token key;
// saved tokens are always written as JSON.
type SecretsManagerTokenStore struct {
	// client is the Secrets Manager API client.
	client SecretsManagerAPI

	// secretARN is the ARN of the secret storing the refresh token.
	secretARN string
}

// NewSecretsManagerTokenStore creates a new Secrets Manager-backed token store.
func NewSecretsManagerTokenStore(client SecretsManagerAPI, secretARN string) (*SecretsManagerTokenStore, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if secretARN == "" {
		return nil, errors.New("secret ARN is required")
	}

	return &SecretsManagerTokenStore{
		client:    client,
		secretARN: secretARN,
	}, nil
}

// RefreshToken returns the current refresh token.
func (t *SecretsManagerTokenStore) RefreshToken(ctx context.Context) (string, error) {
	output, err := t.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(t.secretARN),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret from Secrets Manager: %w", err)
	}

	if output.SecretString == nil {
		return "", errors.New("secret has no string value")
	}

	value := strings.TrimSpace(*output.SecretString)
	if strings.HasPrefix(value, "{") {
		var payload secretPayload
		if err := json.Unmarshal([]byte(value), &payload); err != nil {
			return "", fmt.Errorf("decoding secret: %w", err)
		}
		value = payload.RefreshToken
	}

	if value == "" {
		return "", errors.New("secret has no refresh token")
	}

	return value, nil
}

// SaveRefreshToken stores a new refresh token.
func (t *SecretsManagerTokenStore) SaveRefreshToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}

	data, err := json.Marshal(secretPayload{RefreshToken: token})
	if err != nil {
		return fmt.Errorf("encoding secret: %w", err)
	}

	_, err = t.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(t.secretARN),
		SecretString: aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("putting secret to Secrets Manager: %w", err)
	}

	return nil
}
