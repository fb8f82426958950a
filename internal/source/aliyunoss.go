package source

import (
	"context"
	"fmt"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// aliyunStore reads from Aliyun OSS.
type aliyunStore struct {
	bucket *oss.Bucket
	opts   ListOptions
}

func newAliyunStore(cfg map[string]string) (*aliyunStore, error) {
	for _, key := range []string{"endpoint", "accessKeyId", "accessKeySecret", "bucketName"} {
		if cfg[key] == "" {
			return nil, fmt.Errorf("source: aliyun oss config missing %s", key)
		}
	}

	client, err := oss.New(cfg["endpoint"], cfg["accessKeyId"], cfg["accessKeySecret"])
	if err != nil {
		return nil, fmt.Errorf("source: creating aliyun oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg["bucketName"])
	if err != nil {
		return nil, fmt.Errorf("source: opening aliyun bucket %s: %w", cfg["bucketName"], err)
	}

	return &aliyunStore{
		bucket: bucket,
		opts:   ListOptionsFromConfig(cfg),
	}, nil
}

func (s *aliyunStore) ListKeys(_ context.Context, opts ListOptions) ([]string, error) {
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
		res, err := s.bucket.ListObjectsV2(
			oss.Prefix(opts.Prefix),
			oss.ContinuationToken(token),
			oss.MaxKeys(1000))
		if err != nil {
			return nil, fmt.Errorf("source: listing aliyun objects: %w", err)
		}
		for _, obj := range res.Objects {
			if filter.match(obj.Key) {
				keys = append(keys, obj.Key)
			}
		}
		if !res.IsTruncated {
			return keys, nil
		}
		token = res.NextContinuationToken
	}
}

func (s *aliyunStore) SignURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	signed, err := s.bucket.SignURL(key, oss.HTTPGet, int64(ttl.Seconds()))
	if err != nil {
		return "", fmt.Errorf("source: signing aliyun url for %s: %w", key, err)
	}
	return signed, nil
}
