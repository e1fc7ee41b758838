package graph

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// IsS3URI reports whether the input path names an S3 object.
func IsS3URI(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// LoadS3 fetches a compact dataset from an s3://bucket/key URI.
func LoadS3(ctx context.Context, uri string) (*Graph, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" || u.Host == "" || u.Path == "" {
		return nil, fmt.Errorf("%w: bad S3 URI %q", ErrMalformedDataset, uri)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	obj, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Body.Close()

	g, err := ReadFrom(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("decode s3://%s/%s: %w", bucket, key, err)
	}
	return g, nil
}
