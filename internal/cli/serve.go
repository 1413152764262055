package cli

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/koustreak/bucketdesk/internal/filestore"
	"github.com/koustreak/bucketdesk/internal/filestore/provider"
	"github.com/koustreak/bucketdesk/internal/server"
	"github.com/spf13/cobra"
)

func serveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the web file manager",
		Long: `Serve the browser UI and its JSON API. The bucket must be reachable at
startup; otherwise serve exits with an error.`,
		Example: `  bucketdesk serve --config bucketdesk.yaml
  BUCKETDESK_STORAGE_PROVIDER=memory BUCKETDESK_STORAGE_BUCKET=scratch bucketdesk serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := e.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			bucket := a.cfg.Storage.Bucket
			if err := a.store.Ping(ctx, bucket); err != nil {
				return fmt.Errorf("cannot access bucket %q: %w", bucket, err)
			}

			opts := []server.Option{
				server.WithJournal(a.journal),
				server.WithLogger(a.log),
			}
			if p := blobPath(&a.cfg.Storage); p != "" {
				opts = append(opts, server.WithBlobPath(p))
			}
			srv := server.New(a.cfg.Server, a.store, a.cfg.DeskConfig(), opts...)
			a.log.With().Str("bucket", bucket).Str("provider", string(a.cfg.Storage.Provider)).Logger().Info("starting bucketdesk")
			return srv.Run(ctx)
		},
	}
}

// blobPath is the URL path memory-store links use, empty for other
// providers.
func blobPath(cfg *filestore.Config) string {
	if cfg.Provider != filestore.ProviderMemory {
		return ""
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = provider.DefaultMemoryEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}
