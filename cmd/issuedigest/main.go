package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"issuedigest/internal/app"
	"issuedigest/internal/artifact"
	"issuedigest/internal/audit"
	"issuedigest/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "issuedigest",
		Short:        "Summarize issue-tracker exports into downloadable reports",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.Path(), "YAML config file (env ISSUEDIGEST_CONFIG)")

	open := func(cmd *cobra.Command) (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return app.New(cmd.Context(), cfg)
	}

	root.AddCommand(
		newSummarizeCmd(open),
		newResolveCmd(open),
		newBundleCmd(open),
		newAuditCmd(&configPath),
		newRunsCmd(open),
		newServeCmd(open),
	)
	return root
}

type opener func(cmd *cobra.Command) (*app.App, error)

func newSummarizeCmd(open opener) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize the issue dataset and write one artifact set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if input == "" {
				input = a.Config.InputPath
			}
			res, err := a.Pipeline.RunFile(cmd.Context(), input)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s wrote version %s (%d issues, %d failed)\n",
				res.Record.RunID, res.Set.Version, res.Record.IssueCount, res.Record.Failed)
			for _, f := range artifact.Formats() {
				fmt.Fprintf(out, "  %-4s %s (%s)\n", f, res.Set.Files[f], humanize.Bytes(uint64(res.Set.Sizes[f])))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "issue dataset JSON (defaults to the configured input)")
	return cmd
}

func newResolveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [json|csv|pdf]...",
		Short: "Print the latest artifact file for each format",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			formats := artifact.Formats()
			if len(args) > 0 {
				formats = formats[:0:0]
				for _, raw := range args {
					f, err := artifact.ParseFormat(raw)
					if err != nil {
						return err
					}
					formats = append(formats, f)
				}
			}
			var missing int
			for _, f := range formats {
				name, err := a.Resolver.Resolve(cmd.Context(), f)
				if errors.Is(err, artifact.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t-\n", f)
					missing++
					continue
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", f, name)
			}
			if missing == len(formats) {
				return artifact.ErrNotFound
			}
			return nil
		},
	}
}

func newBundleCmd(open opener) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Write a zip of the latest artifacts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			raw, res, err := a.Bundler.Build(cmd.Context())
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return fmt.Errorf("write bundle: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %d files)\n", out, humanize.Bytes(uint64(res.Size)), len(res.Sources))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "jira_summary_bundle.zip", "output path")
	return cmd
}

// newAuditCmd reads the CSV log directly; it needs no other component.
func newAuditCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Print the download audit log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			events, err := audit.ReadAll(cfg.Audit.Path, time.Local)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTITY\tFORMAT\tTIMESTAMP")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ev.Identity, ev.Format, ev.Timestamp.Format(audit.TimestampLayout))
			}
			return tw.Flush()
		},
	}
}

func newRunsCmd(open opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs from the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			recs, err := a.Manifest.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tVERSION\tSTARTED\tISSUES\tFAILED\tCOMPLETE\tFILES")
			for _, r := range recs {
				names := make([]string, 0, len(r.Files))
				for _, n := range r.Files {
					names = append(names, n)
				}
				sort.Strings(names)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\t%v\n",
					r.RunID, r.Version, humanize.Time(r.StartedAt), r.IssueCount, r.Failed, r.Complete, names)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newServeCmd(open opener) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve downloads, the summary API and progress events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := open(cmd)
			if err != nil {
				return fmt.Errorf("failed to initialize app: %w", err)
			}
			if schedule != "" {
				a.Config.Schedule = schedule
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- a.Start()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-errCh:
				if err != nil {
					_ = a.Close()
					return fmt.Errorf("server error: %w", err)
				}
			}

			log.Println("Shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := a.Shutdown(ctx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Println("Server exiting")
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron spec for unattended runs (overrides RUN_SCHEDULE)")
	return cmd
}
