// Package provider opens the filestore.Store a configuration names.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/filestore/memory"
	"github.com/koustreak/bucketdesk/internal/filestore/minio"
	"github.com/koustreak/bucketdesk/internal/filestore/s3"
)

// DefaultMemoryEndpoint is where memory-store links point when no endpoint
// is configured.
const DefaultMemoryEndpoint = "http://localhost:8080/_blob"

// BlobServer is implemented by stores that serve their own signed links.
// The HTTP front end mounts Handler under the link path.
type BlobServer interface {
	Handler() http.Handler
}

// Open validates cfg and connects to its provider.
func Open(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store filestore.Store
		err   error
	)
	switch cfg.Provider {
	case filestore.ProviderMinIO:
		store, err = minio.New(ctx, cfg)
	case filestore.ProviderS3:
		store, err = s3.New(ctx, cfg)
	case filestore.ProviderMemory:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultMemoryEndpoint
		}
		store, err = memory.New(endpoint, cfg.Bucket)
	default:
		return nil, errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown storage provider %q", cfg.Provider))
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
