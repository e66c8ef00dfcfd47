// Package s3 implements assets.Publisher against an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/voiceloop/voiceloop/obs"
)

// Publisher uploads objects and derives public URLs from the bucket
// configuration.
type Publisher struct {
	client  *awss3.Client
	bucket  string
	baseURL string
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithPublicBaseURL overrides the derived public URL prefix, for buckets
// fronted by a CDN.
func WithPublicBaseURL(url string) Option {
	return func(p *Publisher) { p.baseURL = strings.TrimSuffix(url, "/") }
}

// WithClient sets a custom S3 client.
func WithClient(client *awss3.Client) Option {
	return func(p *Publisher) { p.client = client }
}

// New creates a Publisher for the bucket in the given region, loading AWS
// credentials from the default chain.
func New(ctx context.Context, bucket, region string, opts ...Option) (*Publisher, error) {
	p := &Publisher{bucket: bucket}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		p.client = awss3.NewFromConfig(cfg)
	}
	if p.baseURL == "" {
		p.baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return p, nil
}

// Publish implements assets.Publisher.
func (p *Publisher) Publish(ctx context.Context, key string, data []byte, contentType string) (_ string, err error) {
	ctx, recorder := obs.StartRequest(ctx, "assets.s3.Publish",
		attribute.String("s3.bucket", p.bucket),
		attribute.String("s3.key", key),
	)
	defer func() { recorder.End(err) }()

	_, err = p.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return p.baseURL + "/" + key, nil
}
