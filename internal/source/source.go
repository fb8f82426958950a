// Package source fetches ingestion inputs: single URLs, ZIP archives
// and object-store prefixes (TOS, Aliyun OSS).
package source

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// knownExtensions are the interior file types considered documents
// when walking archives and bucket prefixes.
var knownExtensions = []string{".txt", ".md", ".pdf", ".json", ".jsonl", ".csv", ".docx", ".pptx", ".xlsx", ".eml"}

// KnownExtension reports whether the path has an ingestible extension.
func KnownExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, k := range knownExtensions {
		if ext == k {
			return true
		}
	}
	return false
}

// SignTTL is how long signed object URLs stay valid.
const SignTTL = time.Hour

// ListOptions filter an object-store listing.
type ListOptions struct {
	// Prefix under which to enumerate, e.g. "docs/2024/".
	Prefix string
	// Extensions is an allow-list without dots ("pdf", "txt"). Empty
	// means every known extension.
	Extensions []string
	// ExcludeRegex is a deny-list pattern matched against the full key.
	ExcludeRegex string
}

// ObjectStore enumerates keys under a prefix and signs them for
// download. Implementations: TOS, Aliyun OSS.
type ObjectStore interface {
	// ListKeys returns every matching key under the configured prefix,
	// following continuation tokens until exhaustion.
	ListKeys(ctx context.Context, opts ListOptions) ([]string, error)
	// SignURL returns a time-limited GET URL for the key.
	SignURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NewObjectStore builds a reader for the given oss type. cfg carries
// the provider-specific keys from the task payload.
func NewObjectStore(ossType string, cfg map[string]string) (ObjectStore, error) {
	switch strings.ToUpper(ossType) {
	case "TOS":
		return newTOSStore(cfg)
	case "ALIYUNOSS", "ALIYUN-OSS", "OSS":
		return newAliyunStore(cfg)
	default:
		return nil, fmt.Errorf("source: unsupported oss type %q", ossType)
	}
}

// keyFilter compiles the allow/deny rules of a listing once.
type keyFilter struct {
	allow   map[string]bool
	exclude *regexp.Regexp
}

func newKeyFilter(opts ListOptions) (*keyFilter, error) {
	f := &keyFilter{}
	if len(opts.Extensions) > 0 {
		f.allow = make(map[string]bool, len(opts.Extensions))
		for _, e := range opts.Extensions {
			f.allow["."+strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))] = true
		}
	}
	if opts.ExcludeRegex != "" {
		re, err := regexp.Compile(opts.ExcludeRegex)
		if err != nil {
			return nil, fmt.Errorf("source: invalid exclude regex %q: %w", opts.ExcludeRegex, err)
		}
		f.exclude = re
	}
	return f, nil
}

func (f *keyFilter) match(key string) bool {
	if strings.HasSuffix(key, "/") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(key))
	if f.allow != nil {
		if !f.allow[ext] {
			return false
		}
	} else if !KnownExtension(key) {
		return false
	}
	if f.exclude != nil && f.exclude.MatchString(key) {
		return false
	}
	return true
}

// ListOptionsFromConfig reads the shared listing keys of an oss config
// map: baseFolder, fileExtensions (comma separated), excludeFileRegex.
func ListOptionsFromConfig(cfg map[string]string) ListOptions {
	opts := ListOptions{
		Prefix:       cfg["baseFolder"],
		ExcludeRegex: cfg["excludeFileRegex"],
	}
	if raw := cfg["fileExtensions"]; raw != "" {
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				opts.Extensions = append(opts.Extensions, e)
			}
		}
	}
	return opts
}
