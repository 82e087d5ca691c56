package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/require"
)

const testSecretARN = "arn:aws:secretsmanager:us-east-1:123456789012:secret:crmsync-salesforce"

type mockSecretsManagerAPI struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	putSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

func (m *mockSecretsManagerAPI) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	return m.getSecretValueFunc(ctx, params, optFns...)
}

func (m *mockSecretsManagerAPI) PutSecretValue(
	ctx context.Context,
	params *secretsmanager.PutSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.PutSecretValueOutput, error) {
	return m.putSecretValueFunc(ctx, params, optFns...)
}

func TestNewSecretsManagerTokenStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client    SecretsManagerAPI
		errMsg    string
		secretARN string
		wantErr   bool
	}{
		"valid inputs": {
			client:    &mockSecretsManagerAPI{},
			secretARN: testSecretARN,
		},
		"nil client": {
			client:    nil,
			secretARN: testSecretARN,
			wantErr:   true,
			errMsg:    "secrets manager client is required",
		},
		"empty secret ARN": {
			client:    &mockSecretsManagerAPI{},
			secretARN: "",
			wantErr:   true,
			errMsg:    "secret ARN is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewSecretsManagerTokenStore(tc.client, tc.secretARN)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

func TestSecretsManagerTokenStore_RefreshToken(t *testing.T) {
	t.Parallel()

	secret := func(value *string, err error) *mockSecretsManagerAPI {
		return &mockSecretsManagerAPI{
			getSecretValueFunc: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
				if aws.ToString(params.SecretId) != testSecretARN {
					return nil, errors.New("unexpected secret id")
				}
				if err != nil {
					return nil, err
				}
				return &secretsmanager.GetSecretValueOutput{SecretString: value}, nil
			},
		}
	}

	tests := map[string]struct {
		client  *mockSecretsManagerAPI
		errMsg  string
		want    string
		wantErr bool
	}{
		"bare token": {
			client: secret(aws.String("5Aep861-refresh\n"), nil),
			want:   "5Aep861-refresh",
		},
		"json payload": {
			client: secret(aws.String(`{"refresh_token":"5Aep861-json"}`), nil),
			want:   "5Aep861-json",
		},
		"json without token": {
			client:  secret(aws.String(`{"other":"value"}`), nil),
			wantErr: true,
			errMsg:  "secret has no refresh token",
		},
		"malformed json": {
			client:  secret(aws.String(`{"refresh_token":`), nil),
			wantErr: true,
			errMsg:  "decoding secret",
		},
		"no string value": {
			client:  secret(nil, nil),
			wantErr: true,
			errMsg:  "secret has no string value",
		},
		"api error": {
			client:  secret(nil, errors.New("access denied")),
			wantErr: true,
			errMsg:  "getting secret from Secrets Manager",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewSecretsManagerTokenStore(tc.client, testSecretARN)
			require.NoError(t, err)

			got, err := store.RefreshToken(context.Background())

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.want, got)
			}
		})
	}
}

func TestSecretsManagerTokenStore_SaveRefreshToken(t *testing.T) {
	t.Parallel()

	t.Run("writes json payload", func(t *testing.T) {
		t.Parallel()

		var saved string
		client := &mockSecretsManagerAPI{
			putSecretValueFunc: func(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
				saved = aws.ToString(params.SecretString)
				return &secretsmanager.PutSecretValueOutput{}, nil
			},
		}
		store, err := NewSecretsManagerTokenStore(client, testSecretARN)
		require.NoError(t, err)

		require.NoError(t, store.SaveRefreshToken(context.Background(), "rotated"))
		require.JSONEq(t, `{"refresh_token":"rotated"}`, saved)
	})

	t.Run("rejects empty token", func(t *testing.T) {
		t.Parallel()

		store, err := NewSecretsManagerTokenStore(&mockSecretsManagerAPI{}, testSecretARN)
		require.NoError(t, err)

		err = store.SaveRefreshToken(context.Background(), "")

		require.Error(t, err)
		require.Contains(t, err.Error(), "token cannot be empty")
	})

	t.Run("api error", func(t *testing.T) {
		t.Parallel()

		client := &mockSecretsManagerAPI{
			putSecretValueFunc: func(_ context.Context, _ *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
				return nil, errors.New("throttled")
			},
		}
		store, err := NewSecretsManagerTokenStore(client, testSecretARN)
		require.NoError(t, err)

		err = store.SaveRefreshToken(context.Background(), "rotated")

		require.Error(t, err)
		require.Contains(t, err.Error(), "putting secret to Secrets Manager")
	})
}
