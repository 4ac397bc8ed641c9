package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/socksync/internal/config"
	"github.com/vango-dev/socksync/internal/errors"
	"github.com/vango-dev/socksync/pkg/store"
)

// newSnapshotStore opens the backend named by cfg. It returns nil for
// backend "none".
func newSnapshotStore(ctx context.Context, cfg config.SnapshotConfig) (store.SnapshotStore, error) {
	switch cfg.Backend {
	case config.BackendNone:
		return nil, nil
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendS3:
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, errors.New("S140").
				Wrap(err).
				WithSuggestion("Check the AWS credentials and region available to the process")
		}
		return store.NewS3Store(client, cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, errors.New("S140").WithDetailf("unknown backend %q", cfg.Backend)
	}
}

func newS3Client(ctx context.Context, cfg config.SnapshotConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
