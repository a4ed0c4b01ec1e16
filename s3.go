// Copyright (C) The WebGWAS Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package webgwas

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ResultStore publishes a local result file under the given key and
// returns the URL a client can fetch it from.
type ResultStore interface {
	Put(ctx context.Context, key, localPath string) (string, error)
}

// NewResultStore returns the ResultStore selected by settings: no
// upload when dry-run is enabled or no bucket is configured, otherwise
// S3.
func NewResultStore(ctx context.Context, settings Settings) (ResultStore, error) {
	if settings.DryRun || settings.S3Bucket == "" {
		return NewLocalResultStore(), nil
	}
	return NewS3ResultStore(ctx, settings)
}

type s3ResultStore struct {
	bucket string
	client *s3.Client
}

// NewS3ResultStore returns a ResultStore uploading result files to
// the configured bucket.
func NewS3ResultStore(ctx context.Context, settings Settings) (ResultStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(settings.S3Region))
	if err != nil {
		return nil, err
	}
	return &s3ResultStore{bucket: settings.S3Bucket, client: s3.NewFromConfig(cfg)}, nil
}

func (st *s3ResultStore) Put(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	_, err = st.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(st.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s to s3://%s/%s: %w", localPath, st.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", st.bucket, key), nil
}

// localResultStore leaves result files where the job wrote them; used
// when dry-run is enabled.
type localResultStore struct{}

// NewLocalResultStore returns a ResultStore that performs no upload.
func NewLocalResultStore() ResultStore {
	return localResultStore{}
}

func (localResultStore) Put(ctx context.Context, key, localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	return "file://" + localPath, nil
}
