// Package s3 provides an AWS S3 (or S3 compatible, e.g. minio) backed document store.
// Each document is one object, writes are guarded with conditional requests on the
// object ETags read before the batch was applied.
package s3

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Config holds the S3 connection and bucket layout settings.
type Config struct {
	// HostEndpointUrl, e.g. "http://127.0.0.1:9000". Empty uses the AWS default endpoint resolution.
	HostEndpointUrl string `json:"host_endpoint_url"`
	// Region, e.g. "us-east-1".
	Region   string `json:"region"`
	Username string `json:"username"`
	Password string `json:"-"`
	// Bucket holding the documents.
	Bucket string `json:"bucket"`
	// Prefix is prepended to every object key, allowing several stores per bucket.
	Prefix string `json:"prefix"`
	// UsePathStyle addresses the bucket in the path, needed by minio.
	UsePathStyle bool `json:"use_path_style"`
}

// Connect returns a client for config. With static credentials the client targets the
// given endpoint (e.g. minio), otherwise the default AWS configuration of the host is loaded.
func Connect(ctx context.Context, cfg Config) (*s3.Client, error) {
	if cfg.Username != "" {
		client := s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
			if cfg.HostEndpointUrl != "" {
				o.BaseEndpoint = aws.String(cfg.HostEndpointUrl)
			}
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.Username, cfg.Password, "")
			o.UsePathStyle = cfg.UsePathStyle
		})
		return client, nil
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("couldn't load default aws configuration: %w", err)
	}
	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.HostEndpointUrl != "" {
			o.BaseEndpoint = aws.String(cfg.HostEndpointUrl)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// CreateBucket creates the bucket, tolerating one that already exists and is owned by the caller.
func CreateBucket(ctx context.Context, client *s3.Client, bucket, region string) error {
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if region != "" && region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := client.CreateBucket(ctx, in); err != nil {
		if hasErrorCode(err, "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("couldn't create bucket %s in Region %s, details: %w", bucket, region, err)
	}
	log.Info("created bucket", "bucket", bucket)
	return nil
}

func (s *Store) documentKey(id string) string {
	return s.config.Prefix + "docs/" + strings.TrimPrefix(id, "/")
}

func (s *Store) sequencesKey() string {
	return s.config.Prefix + "meta/sequences.json"
}
