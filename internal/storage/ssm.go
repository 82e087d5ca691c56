package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SSMAPI defines the SSM operations used by the watermark store.
type SSMAPI interface {
	// GetParameter retrieves a parameter from SSM.
	GetParameter(
		ctx context.Context,
		params *ssm.GetParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParameterOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// SSMWatermarkStore keeps one SSM parameter per entity and direction.
type SSMWatermarkStore struct {
	// client is the SSM API client.
	client SSMAPI

	// prefix is the parameter path prefix, without a trailing slash.
	prefix string
}

// NewSSMWatermarkStore creates a new SSM-backed watermark store.
// Parameters are named <prefix>/<entity>/<direction>/last-sync-time.
func NewSSMWatermarkStore(client SSMAPI, prefix string) (*SSMWatermarkStore, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return nil, errors.New("parameter prefix is required")
	}

	return &SSMWatermarkStore{
		client: client,
		prefix: prefix,
	}, nil
}

// Watermark returns the stored watermark. The boolean is false when none exists.
func (s *SSMWatermarkStore) Watermark(ctx context.Context, entity string, dir Direction) (time.Time, bool, error) {
	output, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name: aws.String(s.parameterName(entity, dir)),
	})
	if err != nil {
		// Parameter not found means no watermark yet.
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("getting parameter from SSM: %w", err)
	}

	if output.Parameter == nil || output.Parameter.Value == nil || *output.Parameter.Value == "" {
		return time.Time{}, false, nil
	}

	t, err := time.Parse(time.RFC3339Nano, *output.Parameter.Value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing time from parameter: %w", err)
	}

	return t.UTC(), true, nil
}

// SetWatermark stores the watermark.
func (s *SSMWatermarkStore) SetWatermark(ctx context.Context, entity string, dir Direction, t time.Time) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName(entity, dir)),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(t.UTC().Format(time.RFC3339Nano)),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	return nil
}

func (s *SSMWatermarkStore) parameterName(entity string, dir Direction) string {
	return fmt.Sprintf("%s/%s/%s/last-sync-time", s.prefix, entity, dir)
}
