// Package config provides configuration loading from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// EnvDatabaseDriver is the database/sql driver name for the target store (pgx or sqlite3).
	EnvDatabaseDriver = "DATABASE_DRIVER"

	// EnvDatabaseURL is the target store connection string.
	EnvDatabaseURL = "DATABASE_URL"

	// EnvDynamoDBTableName is the DynamoDB table storing watermarks.
	EnvDynamoDBTableName = "DYNAMODB_TABLE_NAME"

	// EnvSalesforceAPIVersion is the REST API version (default: v59.0).
	EnvSalesforceAPIVersion = "SALESFORCE_API_VERSION"

	// EnvSalesforceClientID is the connected app consumer key.
	EnvSalesforceClientID = "SALESFORCE_CLIENT_ID"

	// EnvSalesforceClientSecret is the connected app consumer secret.
	EnvSalesforceClientSecret = "SALESFORCE_CLIENT_SECRET"

	// EnvSalesforceInstanceURL is the org instance URL.
	EnvSalesforceInstanceURL = "SALESFORCE_INSTANCE_URL"

	// EnvSalesforceRefreshTokenSecretARN is the Secrets Manager ARN for the refresh token.
	EnvSalesforceRefreshTokenSecretARN = "SALESFORCE_REFRESH_TOKEN_SECRET_ARN"

	// EnvSalesforceTokenURL is the OAuth token endpoint URL.
	EnvSalesforceTokenURL = "SALESFORCE_TOKEN_URL"

	// EnvSSMParameterPrefix is the SSM parameter path prefix for watermarks.
	EnvSSMParameterPrefix = "SSM_PARAMETER_PREFIX"

	// EnvSyncBatchSize is the number of rows per upsert transaction.
	EnvSyncBatchSize = "SYNC_BATCH_SIZE"

	// EnvSyncEntities is a comma separated list of entities to sync (default: all).
	EnvSyncEntities = "SYNC_ENTITIES"

	// EnvSyncMode is the sync mode (pull, push or bidirectional).
	EnvSyncMode = "SYNC_MODE"

	// EnvWatermarkBackend selects where watermarks are stored (sql, ssm or dynamodb).
	EnvWatermarkBackend = "WATERMARK_BACKEND"
)

// Watermark backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendSQL      = "sql"
	BackendSSM      = "ssm"
)

const (
	defaultAPIVersion = "v59.0"
	defaultDriver     = "pgx"
	defaultTokenURL   = "https://login.salesforce.com/services/oauth2/token"
)

// Database holds target store configuration.
type Database struct {
	// Driver is the database/sql driver name.
	Driver string

	// URL is the connection string.
	URL string
}

// DynamoDB holds AWS DynamoDB configuration.
type DynamoDB struct {
	// TableName is the table storing watermarks.
	TableName string
}

// Salesforce holds Salesforce REST API configuration.
type Salesforce struct {
	// APIVersion is the REST API version.
	APIVersion string

	// ClientID is the connected app consumer key.
	ClientID string

	// ClientSecret is the connected app consumer secret.
	ClientSecret string

	// InstanceURL is the org instance URL.
	InstanceURL string

	// RefreshTokenSecretARN is the Secrets Manager ARN storing the OAuth refresh token.
	RefreshTokenSecretARN string

	// TokenURL is the OAuth token endpoint.
	TokenURL string
}

// SSM holds AWS Systems Manager Parameter Store configuration.
type SSM struct {
	// ParameterPrefix is the path prefix under which watermarks are stored.
	ParameterPrefix string
}

// Sync holds the settings of a scheduled run.
type Sync struct {
	// BatchSize is the number of rows per upsert transaction. Zero uses the store default.
	BatchSize int

	// Entities are the entity names to sync. Empty means all.
	Entities []string

	// Mode is the sync mode name.
	Mode string

	// WatermarkBackend selects the watermark store.
	WatermarkBackend string
}

// Settings holds all configuration for the application.
type Settings struct {
	// Database contains target store settings.
	Database Database

	// DynamoDB contains AWS DynamoDB settings.
	DynamoDB DynamoDB

	// Salesforce contains Salesforce API settings.
	Salesforce Salesforce

	// SSM contains AWS Systems Manager Parameter Store settings.
	SSM SSM

	// Sync contains run settings.
	Sync Sync
}

func (s *Settings) validate() error {
	var errs []error

	if s.Salesforce.ClientID == "" {
		errs = append(errs, requiredError(EnvSalesforceClientID))
	}
	if s.Salesforce.ClientSecret == "" {
		errs = append(errs, requiredError(EnvSalesforceClientSecret))
	}
	if s.Salesforce.InstanceURL == "" {
		errs = append(errs, requiredError(EnvSalesforceInstanceURL))
	}
	if s.Salesforce.RefreshTokenSecretARN == "" {
		errs = append(errs, requiredError(EnvSalesforceRefreshTokenSecretARN))
	}
	if s.Database.URL == "" {
		errs = append(errs, requiredError(EnvDatabaseURL))
	}
	if s.Sync.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", EnvSyncBatchSize))
	}

	switch s.Sync.WatermarkBackend {
	case BackendSQL:
	case BackendSSM:
		if s.SSM.ParameterPrefix == "" {
			errs = append(errs, requiredError(EnvSSMParameterPrefix))
		}
	case BackendDynamoDB:
		if s.DynamoDB.TableName == "" {
			errs = append(errs, requiredError(EnvDynamoDBTableName))
		}
	default:
		errs = append(errs, fmt.Errorf("%s must be one of %s, %s or %s, got %q",
			EnvWatermarkBackend, BackendSQL, BackendSSM, BackendDynamoDB, s.Sync.WatermarkBackend))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Settings, error) {
	batchSize, err := envInt(EnvSyncBatchSize)
	if err != nil {
		return nil, err
	}

	cfg := &Settings{
		Database: Database{
			Driver: envOrDefault(EnvDatabaseDriver, defaultDriver),
			URL:    strings.TrimSpace(os.Getenv(EnvDatabaseURL)),
		},
		DynamoDB: DynamoDB{
			TableName: strings.TrimSpace(os.Getenv(EnvDynamoDBTableName)),
		},
		Salesforce: Salesforce{
			APIVersion:            envOrDefault(EnvSalesforceAPIVersion, defaultAPIVersion),
			ClientID:              strings.TrimSpace(os.Getenv(EnvSalesforceClientID)),
			ClientSecret:          strings.TrimSpace(os.Getenv(EnvSalesforceClientSecret)),
			InstanceURL:           strings.TrimSpace(os.Getenv(EnvSalesforceInstanceURL)),
			RefreshTokenSecretARN: strings.TrimSpace(os.Getenv(EnvSalesforceRefreshTokenSecretARN)),
			TokenURL:              envOrDefault(EnvSalesforceTokenURL, defaultTokenURL),
		},
		SSM: SSM{
			ParameterPrefix: strings.TrimSpace(os.Getenv(EnvSSMParameterPrefix)),
		},
		Sync: Sync{
			BatchSize:        batchSize,
			Entities:         splitList(os.Getenv(EnvSyncEntities)),
			Mode:             strings.TrimSpace(os.Getenv(EnvSyncMode)),
			WatermarkBackend: envOrDefault(EnvWatermarkBackend, BackendSQL),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envInt(key string) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envOrDefault(key string, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func requiredError(envVar string) error {
	return fmt.Errorf("%s is required", envVar)
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
