package internal

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/starford/scribe/internal/fileops"
)

// openBackend builds the configured fileops backend. The returned func
// releases whatever the backend holds open.
func openBackend(ctx context.Context, cfg StorageConfig) (fileops.FileOperations, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case BackendLocal, "":
		if err := os.MkdirAll(cfg.Local.Path, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create storage dir: %w", err)
		}
		ops, err := fileops.NewLocal(cfg.Local.Path)
		if err != nil {
			return nil, nil, err
		}
		return ops, noop, nil

	case BackendSQLite:
		db, err := fileops.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil

	case BackendS3:
		client, err := newS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		ops := fileops.NewObject(client, cfg.S3.Bucket,
			fileops.WithPresigner(s3.NewPresignClient(client), cfg.S3.PresignTTL))
		return ops, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

func newS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}
