// Copyright 2025 The Datapump Authors
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/datapump/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config holds the connection settings shared by every AWS client.
type Config struct {
	Region          string
	Endpoint        string // Custom S3 endpoint (e.g. MinIO); empty uses AWS
	AccessKeyID     string // Empty uses the default credential chain
	SecretAccessKey string
	PathStyle       bool
	Timeout         time.Duration // Per-request timeout (default: 5m)
	MaxIdleConns    int           // Default: 100
}

func (c Config) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	maxIdle := c.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 100
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        maxIdle,
			MaxIdleConnsPerHost: maxIdle,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// LoadAWSConfig builds an aws.Config with a shared HTTP client. Static
// credentials are used when an access key is configured.
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(cfg.httpClient()),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// NewS3Client creates an S3 client for cfg.
func NewS3Client(awsCfg aws.Config, cfg Config) *s3.Client {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Debug().
		Str("endpoint", cfg.Endpoint).
		Str("region", awsCfg.Region).
		Msg("objectstore: created S3 client")

	return client
}
