package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/bunny/control"
	"github.com/adamwoolhether/bunny/storage"
)

func newPurgeCmd(cfg *Config) *cobra.Command {
	var async bool

	purge := &cobra.Command{
		Use:   "purge <url>...",
		Short: "Purge URLs from the CDN cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cfg.controlClient(cmd)
			if err != nil {
				return err
			}

			for _, u := range args {
				if err := cl.PurgeURL(cmd.Context(), control.PurgeRequest{URL: u, Async: async}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "purged %s\n", u)
			}

			return nil
		},
	}

	purge.Flags().BoolVar(&async, "async", false, "Return before the purge has propagated")

	return purge
}

func newRegionsCmd(cfg *Config) *cobra.Command {
	var cdn bool

	regions := &cobra.Command{
		Use:   "regions",
		Short: "List storage regions, or CDN pricing regions with --cdn",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			if !cdn {
				for _, r := range storage.Regions() {
					fmt.Fprintf(tw, "%s\t%s\n", r, r.Endpoint())
				}
				return tw.Flush()
			}

			cl, err := cfg.controlClient(cmd)
			if err != nil {
				return err
			}

			regions, err := cl.Regions(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range regions {
				fmt.Fprintf(tw, "%s\t%s\t%.4f/GB\n", r.RegionCode, r.Name, r.PricePerGigabyte)
			}

			return tw.Flush()
		},
	}

	regions.Flags().BoolVar(&cdn, "cdn", false, "List CDN pricing regions from the account API")

	return regions
}

func controlCmds(cfg *Config) []*cobra.Command {
	return []*cobra.Command{newPurgeCmd(cfg), newRegionsCmd(cfg)}
}
