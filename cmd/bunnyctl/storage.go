package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamwoolhether/bunny/storage"
)

func newLsCmd(cfg *Config) *cobra.Command {
	var recursive bool

	ls := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a storage directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := cfg.zone(cmd)
			if err != nil {
				return err
			}

			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}

			list := z.List
			if recursive {
				list = z.Walk
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for e, err := range list(cmd.Context(), dir) {
				if err != nil {
					tw.Flush()
					return err
				}

				size := fmt.Sprint(e.Length)
				if e.IsDirectory {
					size = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", size, e.LastChanged.Format(time.DateTime), e.Key())
			}

			return tw.Flush()
		},
	}

	ls.Flags().BoolVarP(&recursive, "recursive", "R", false, "List subdirectories too")

	return ls
}

func newGetCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote> [local]",
		Short: "Download an object; a local path of - writes to stdout",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := cfg.zone(cmd)
			if err != nil {
				return err
			}

			remote := args[0]
			local := path.Base(remote)
			if len(args) == 2 {
				local = args[1]
			}

			if local == "-" {
				obj, err := z.Download(cmd.Context(), remote)
				if err != nil {
					return err
				}
				defer obj.Close()

				_, err = io.Copy(cmd.OutOrStdout(), obj)
				return err
			}

			if fi, err := os.Stat(local); err == nil && fi.IsDir() {
				local = filepath.Join(local, path.Base(remote))
			}

			stats, err := z.DownloadFile(cmd.Context(), remote, local, storage.WithVerifyChecksum(), storage.WithProgress())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s -> %s (%d bytes)\n", remote, local, stats.Transferred)
			return nil
		},
	}
}

func newPutCmd(cfg *Config) *cobra.Command {
	var contentType string

	put := &cobra.Command{
		Use:   "put <local> [remote]",
		Short: "Upload a file; a local path of - reads stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := cfg.zone(cmd)
			if err != nil {
				return err
			}

			local := args[0]
			remote := filepath.Base(local)
			if len(args) == 2 {
				remote = args[1]
			}
			if local == "-" && len(args) == 1 {
				return errors.New("reading stdin requires a remote path")
			}

			opts := []storage.Option{storage.WithProgress()}
			if contentType != "" {
				opts = append(opts, storage.WithContentType(contentType))
			}

			var stats storage.Stats
			if local == "-" {
				stats, err = z.Upload(cmd.Context(), remote, cmd.InOrStdin(), -1, opts...)
			} else {
				stats, err = z.UploadFile(cmd.Context(), local, remote, opts...)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "%s -> %s (%d bytes)\n", local, remote, stats.Transferred)
			return nil
		},
	}

	put.Flags().StringVar(&contentType, "content-type", "", "Content type of the object")

	return put
}

func newRmCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <remote>...",
		Short: "Delete objects; a path ending in / deletes a directory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := cfg.zone(cmd)
			if err != nil {
				return err
			}

			for _, p := range args {
				if err := z.Delete(cmd.Context(), p); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newStatCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <remote>",
		Short: "Show an object's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			z, err := cfg.zone(cmd)
			if err != nil {
				return err
			}

			info, err := z.Stat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "Path:\t%s\n", info.Path)
			fmt.Fprintf(tw, "Size:\t%d\n", info.Size)
			fmt.Fprintf(tw, "Content-Type:\t%s\n", info.ContentType)
			fmt.Fprintf(tw, "Last-Modified:\t%s\n", info.LastModified.Format(time.RFC3339))
			fmt.Fprintf(tw, "Checksum:\t%s\n", info.Checksum)

			return tw.Flush()
		},
	}
}

func storageCmds(cfg *Config) []*cobra.Command {
	return []*cobra.Command{newLsCmd(cfg), newGetCmd(cfg), newPutCmd(cfg), newRmCmd(cfg), newStatCmd(cfg)}
}
