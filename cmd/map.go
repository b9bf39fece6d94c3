package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/sells-group/scraping-service/internal/scraping"
)

var (
	mapURL               string
	mapOrgID             string
	mapAppID             string
	mapKeySource         string
	mapSearch            string
	mapLimit             int
	mapIncludeSubdomains bool
)

type siteMapper interface {
	Map(ctx context.Context, in scraping.MapInput) (*scraping.MapOutput, error)
}

var mapCmd = &cobra.Command{
	Use:   "map",
	Short: "List the URLs of a site and print them as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initService(ctx, "scrape")
		if err != nil {
			return err
		}
		defer env.Close(seconds(cfg.Telemetry.TimeoutSecs, 30))

		in := scraping.MapInput{
			URL:               mapURL,
			OrgID:             mapOrgID,
			Search:            mapSearch,
			Limit:             mapLimit,
			IncludeSubdomains: mapIncludeSubdomains,
			KeySource:         mapKeySource,
			RunContext:        scraping.RunContext{AppID: mapAppID},
		}
		return runMap(ctx, env.Service, in, cmd.OutOrStdout())
	},
}

func runMap(ctx context.Context, svc siteMapper, in scraping.MapInput, w io.Writer) error {
	out, err := svc.Map(ctx, in)
	if err != nil {
		return err
	}
	return printJSON(w, out)
}

func init() {
	mapCmd.Flags().StringVar(&mapURL, "url", "", "site URL to map")
	mapCmd.Flags().StringVar(&mapOrgID, "org", "", "organization id")
	mapCmd.Flags().StringVar(&mapAppID, "app-id", "", "app id (required with --key-source app)")
	mapCmd.Flags().StringVar(&mapKeySource, "key-source", "byok", "key source: byok, app or platform")
	mapCmd.Flags().StringVar(&mapSearch, "search", "", "only return URLs related to this term")
	mapCmd.Flags().IntVar(&mapLimit, "limit", scraping.DefaultMapLimit, "maximum URLs to return (1-500)")
	mapCmd.Flags().BoolVar(&mapIncludeSubdomains, "include-subdomains", false, "include subdomains of the site")
	_ = mapCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(mapCmd)
}
