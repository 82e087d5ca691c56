package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/peteski22/crmsync/internal/config"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
	"github.com/peteski22/crmsync/internal/sync"
)

// newSalesforceClient creates an API client that refreshes tokens through tokens.
func newSalesforceClient(cfg config.Salesforce, tokens salesforce.TokenStore) (*salesforce.Client, error) {
	var opts []salesforce.Option
	if cfg.APIVersion != "" {
		opts = append(opts, salesforce.WithAPIVersion(cfg.APIVersion))
	}
	if cfg.TokenURL != "" {
		opts = append(opts, salesforce.WithTokenURL(cfg.TokenURL))
	}

	client, err := salesforce.NewClient(salesforce.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		InstanceURL:  cfg.InstanceURL,
		TokenStore:   tokens,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating salesforce client: %w", err)
	}

	return client, nil
}

// openStore opens the target store.
func openStore(ctx context.Context, cfg config.Database, logger *slog.Logger) (*storage.Store, error) {
	store, err := storage.Open(ctx, cfg.Driver, cfg.URL, storage.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store, nil
}

// newLocalService wires a service from the local config file: the refresh token lives in the
// token file and watermarks live in the target store.
func newLocalService(ctx context.Context, cfg *config.LocalConfig, logger *slog.Logger) (*sync.Service, *storage.Store, error) {
	tokenPath, err := config.TokenFilePath()
	if err != nil {
		return nil, nil, fmt.Errorf("getting token path: %w", err)
	}

	tokens, err := storage.NewFileTokenStore(tokenPath)
	if err != nil {
		return nil, nil, fmt.Errorf("creating token store: %w", err)
	}

	client, err := newSalesforceClient(cfg.Salesforce, tokens)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	watermarks, err := storage.NewSQLWatermarkStore(store)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("creating watermark store: %w", err)
	}

	svc, err := sync.New(sync.Config{
		Client:     client,
		Logger:     logger,
		Store:      store,
		Watermarks: watermarks,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("creating sync service: %w", err)
	}

	return svc, store, nil
}

// newAWSService wires a service from environment settings: the refresh token lives in Secrets
// Manager and watermarks live in the configured backend.
func newAWSService(
	ctx context.Context,
	awsCfg aws.Config,
	settings *config.Settings,
	logger *slog.Logger,
) (*sync.Service, *storage.Store, error) {
	tokens, err := storage.NewSecretsManagerTokenStore(
		secretsmanager.NewFromConfig(awsCfg),
		settings.Salesforce.RefreshTokenSecretARN,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating token store: %w", err)
	}

	client, err := newSalesforceClient(settings.Salesforce, tokens)
	if err != nil {
		return nil, nil, err
	}

	store, err := openStore(ctx, settings.Database, logger)
	if err != nil {
		return nil, nil, err
	}

	watermarks, err := newWatermarkStore(awsCfg, settings, store)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	svc, err := sync.New(sync.Config{
		Client:     client,
		Logger:     logger,
		Store:      store,
		Watermarks: watermarks,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("creating sync service: %w", err)
	}

	return svc, store, nil
}

// newWatermarkStore returns the watermark store selected by the settings.
func newWatermarkStore(awsCfg aws.Config, settings *config.Settings, store *storage.Store) (sync.WatermarkStore, error) {
	var (
		watermarks sync.WatermarkStore
		err        error
	)

	switch settings.Sync.WatermarkBackend {
	case config.BackendDynamoDB:
		watermarks, err = storage.NewDynamoDBWatermarkStore(dynamodb.NewFromConfig(awsCfg), settings.DynamoDB.TableName)
	case config.BackendSSM:
		watermarks, err = storage.NewSSMWatermarkStore(ssm.NewFromConfig(awsCfg), settings.SSM.ParameterPrefix)
	case config.BackendSQL:
		watermarks, err = storage.NewSQLWatermarkStore(store)
	default:
		return nil, fmt.Errorf("unknown watermark backend %q", settings.Sync.WatermarkBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s watermark store: %w", settings.Sync.WatermarkBackend, err)
	}

	return watermarks, nil
}
