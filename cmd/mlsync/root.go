package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mlsync/internal/app"
	"mlsync/internal/config"
	"mlsync/internal/uploads"
	"mlsync/pkg/domain"
)

// errFindings makes audit and files exit non-zero without printing an extra error line.
var errFindings = errors.New("audit found inconsistencies")

type rootOptions struct {
	configPath string
	format     string
	trace      string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "mlsync",
		Short:         "Multisite media library replication",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.format)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.trace, "trace", "", "append engine trace spans as JSON lines to this file")

	cmd.AddCommand(newSitesCommand(opts))
	cmd.AddCommand(newAuditCommand(opts))
	cmd.AddCommand(newResyncCommand(opts))
	cmd.AddCommand(newUploadCommand(opts))
	cmd.AddCommand(newFilesCommand(opts))
	cmd.AddCommand(newURLCommand(opts))
	return cmd
}

// withApp loads configuration, assembles the network and runs fn against it.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.trace != "" {
		cfg.Trace = opts.trace
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, app.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, a), a.Close())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSitesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "List the sites of the network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, a *app.App) error {
				sites := a.Network.Sites()
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), sites)
				}
				for _, s := range sites {
					fmt.Fprintln(cmd.OutOrStdout(), s)
				}
				return nil
			})
		},
	}
}

type findingJSON struct {
	Kind      string  `json:"kind"`
	Site      int64   `json:"site,omitempty"`
	Canonical int64   `json:"canonical,omitempty"`
	Entities  []int64 `json:"entities,omitempty"`
}

func newAuditCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report attachments whose replicas are missing, duplicated or unlinked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				findings, err := a.Engine.Audit(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.format == "json" {
					rows := make([]findingJSON, 0, len(findings))
					for _, f := range findings {
						rows = append(rows, findingJSON{Kind: string(f.Kind), Site: int64(f.Site), Canonical: f.Canonical, Entities: f.Entities})
					}
					if err := writeJSON(out, rows); err != nil {
						return err
					}
				} else {
					for _, f := range findings {
						fmt.Fprintln(out, f)
					}
					if len(findings) == 0 {
						fmt.Fprintln(out, "no findings")
					}
				}
				if len(findings) > 0 {
					return errFindings
				}
				return nil
			})
		},
	}
}

func newResyncCommand(opts *rootOptions) *cobra.Command {
	var site, id int64
	var actionName string
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Replay one attachment from its site to every other site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if site <= 0 || id <= 0 {
				return errors.New("--site and --id are required")
			}
			action, err := domain.ParseAction(actionName)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				report, err := a.Resync(ctx, domain.SiteID(site), action, id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range report.Sites {
					status := "ok"
					if r.Err != nil {
						status = r.Err.Error()
					}
					fmt.Fprintf(out, "site %d: replica %d: %s\n", r.Site, r.Replica, status)
				}
				return report.Err()
			})
		},
	}
	cmd.Flags().Int64Var(&site, "site", 0, "site holding the entity")
	cmd.Flags().Int64Var(&id, "id", 0, "entity id within that site")
	cmd.Flags().StringVar(&actionName, "action", "update", "lifecycle action to replay (create|update|delete); create inserts new replicas")
	return cmd
}

func newUploadCommand(opts *rootOptions) *cobra.Command {
	var site int64
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file into a site and replicate the attachment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				created, err := a.Library.Upload(ctx, domain.SiteID(site), args[0], f, nil)
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), created)
				}
				fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatInt(created.ID, 10), created.Path)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&site, "site", 1, "site receiving the upload")
	return cmd
}

type fileFindingJSON struct {
	Kind   string `json:"kind"`
	Site   int64  `json:"site,omitempty"`
	Entity int64  `json:"entity,omitempty"`
	Key    string `json:"key"`
}

func newFilesCommand(opts *rootOptions) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Report attachments without stored files and stored files without attachments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				findings, err := a.Library.CheckFiles(ctx, a.Network)
				if err != nil {
					return err
				}
				if prune {
					deleted, err := a.Library.Prune(ctx, findings)
					if err != nil {
						return err
					}
					kept := findings[:0]
					for _, f := range findings {
						if f.Kind != uploads.FileUnreferenced {
							kept = append(kept, f)
						}
					}
					findings = kept
					if opts.format == "text" {
						for _, key := range deleted {
							fmt.Fprintln(cmd.OutOrStdout(), "deleted", key)
						}
					}
				}
				out := cmd.OutOrStdout()
				if opts.format == "json" {
					rows := make([]fileFindingJSON, 0, len(findings))
					for _, f := range findings {
						rows = append(rows, fileFindingJSON{Kind: string(f.Kind), Site: int64(f.Site), Entity: f.Entity, Key: f.Key})
					}
					if err := writeJSON(out, rows); err != nil {
						return err
					}
				} else {
					for _, f := range findings {
						fmt.Fprintln(out, f)
					}
					if len(findings) == 0 {
						fmt.Fprintln(out, "no findings")
					}
				}
				if len(findings) > 0 {
					return errFindings
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "delete stored files no attachment references")
	return cmd
}

func newURLCommand(opts *rootOptions) *cobra.Command {
	var expiry time.Duration
	cmd := &cobra.Command{
		Use:   "url <key>",
		Short: "Print a download URL for a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				u, err := a.Library.URL(ctx, args[0], expiry)
				if err != nil {
					return err
				}
				if opts.format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]string{"key": args[0], "url": u})
				}
				fmt.Fprintln(cmd.OutOrStdout(), u)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "lifetime of signed URLs")
	return cmd
}
