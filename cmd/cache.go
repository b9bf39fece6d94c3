package main

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/scraping-service/internal/scraping"
)

var cacheURL string

// cacheManager is the subset of scraping.Service used by the cache
// subcommands.
type cacheManager interface {
	GetByURL(ctx context.Context, rawURL string) (*scraping.ByURLOutput, error)
	Invalidate(ctx context.Context, rawURL string) (bool, error)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and invalidate cached results",
}

var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached result for a URL, including expired entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCacheService(cmd, func(ctx context.Context, svc cacheManager) error {
			return runCacheShow(ctx, svc, cacheURL, cmd.OutOrStdout())
		})
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Mark the cache entry for a URL invalid so the next scrape extracts again",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCacheService(cmd, func(ctx context.Context, svc cacheManager) error {
			return runCacheInvalidate(ctx, svc, cacheURL, cmd.OutOrStdout())
		})
	},
}

// withCacheService opens the store and runs fn against a service that
// only reads and writes the cache.
func withCacheService(cmd *cobra.Command, fn func(ctx context.Context, svc cacheManager) error) error {
	ctx := cmd.Context()

	if err := cfg.Validate("store"); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	if err := st.Migrate(ctx); err != nil {
		return eris.Wrap(err, "migrate store")
	}

	return fn(ctx, scraping.NewService(st, nil, nil, nil))
}

func runCacheShow(ctx context.Context, svc cacheManager, rawURL string, w io.Writer) error {
	out, err := svc.GetByURL(ctx, rawURL)
	if err != nil {
		return err
	}
	return printJSON(w, out)
}

func runCacheInvalidate(ctx context.Context, svc cacheManager, rawURL string, w io.Writer) error {
	ok, err := svc.Invalidate(ctx, rawURL)
	if err != nil {
		return err
	}
	if !ok {
		zap.L().Info("no cache entry to invalidate", zap.String("url", rawURL))
		_, err = fmt.Fprintf(w, "no cache entry for %s\n", rawURL)
		return err
	}
	zap.L().Info("cache entry invalidated", zap.String("url", rawURL))
	_, err = fmt.Fprintf(w, "invalidated %s\n", rawURL)
	return err
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cacheURL, "url", "", "page URL")
	_ = cacheCmd.MarkPersistentFlagRequired("url")
	cacheCmd.AddCommand(cacheShowCmd, cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)
}
