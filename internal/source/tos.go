package source

import (
	"context"
	"fmt"
	"time"

	"github.com/volcengine/ve-tos-golang-sdk/v2/tos"
	"github.com/volcengine/ve-tos-golang-sdk/v2/tos/enum"
)

// tosStore reads from Volcengine TOS.
type tosStore struct {
	client *tos.ClientV2
	bucket string
	opts   ListOptions
}

func newTOSStore(cfg map[string]string) (*tosStore, error) {
	for _, key := range []string{"endpoint", "region", "accessKeyId", "accessKeySecret", "bucketName"} {
		if cfg[key] == "" {
			return nil, fmt.Errorf("source: tos config missing %s", key)
		}
	}

	client, err := tos.NewClientV2(cfg["endpoint"],
		tos.WithRegion(cfg["region"]),
		tos.WithCredentials(tos.NewStaticCredentials(cfg["accessKeyId"], cfg["accessKeySecret"])))
	if err != nil {
		return nil, fmt.Errorf("source: creating tos client: %w", err)
	}

	return &tosStore{
		client: client,
		bucket: cfg["bucketName"],
		opts:   ListOptionsFromConfig(cfg),
	}, nil
}

func (s *tosStore) ListKeys(ctx context.Context, opts ListOptions) ([]string, error) {
	if opts.Prefix == "" {
		opts = s.opts
	}
	filter, err := newKeyFilter(opts)
	if err != nil {
		return nil, err
	}

	var keys []string
	token := ""
	for {
		out, err := s.client.ListObjectsType2(ctx, &tos.ListObjectsType2Input{
			Bucket:            s.bucket,
			Prefix:            opts.Prefix,
			ContinuationToken: token,
			MaxKeys:           1000,
		})
		if err != nil {
			return nil, fmt.Errorf("source: listing tos objects: %w", err)
		}
		for _, obj := range out.Contents {
			if filter.match(obj.Key) {
				keys = append(keys, obj.Key)
			}
		}
		if !out.IsTruncated {
			return keys, nil
		}
		token = out.NextContinuationToken
	}
}

func (s *tosStore) SignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	out, err := s.client.PreSignedURL(&tos.PreSignedURLInput{
		HTTPMethod: enum.HttpMethodGet,
		Bucket:     s.bucket,
		Key:        key,
		Expires:    int64(ttl.Seconds()),
	})
	if err != nil {
		return "", fmt.Errorf("source: signing tos url for %s: %w", key, err)
	}
	return out.SignedUrl, nil
}
