package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	vaulterrors "github.com/secstack/threatvault/internal/errors"
	"github.com/secstack/threatvault/internal/store"
)

func newFeedsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeds",
		Short: "Manage feed source registrations",
	}

	cmd.AddCommand(newFeedsListCmd())
	cmd.AddCommand(newFeedsAddCmd())
	cmd.AddCommand(newFeedsEnableCmd())
	cmd.AddCommand(newFeedsDisableCmd())

	return cmd
}

func newFeedsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered feed sources and their state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			sources, err := app.store.ListFeedSources(cmd.Context())
			if err != nil {
				return err
			}
			app.renderer.FeedSources(sources)
			return nil
		},
	}
}

func newFeedsAddCmd() *cobra.Command {
	var endpoint string
	var format string
	var interval time.Duration
	var priority int
	var headers []string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a feed source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			headerMap, err := parseHeaders(headers)
			if err != nil {
				return err
			}
			src := &store.FeedSource{
				Name:         args[0],
				Endpoint:     endpoint,
				Format:       store.FeedFormat(format),
				PollInterval: interval,
				Priority:     priority,
				Headers:      headerMap,
			}
			if err := app.store.SaveFeedSource(cmd.Context(), src); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered feed source %q\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Feed URL (required)")
	cmd.Flags().StringVar(&format, "format", "json", "Payload format: json, xml, csv, or text")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Minute, "Poll interval")
	cmd.Flags().IntVar(&priority, "priority", 1, "Source priority")
	cmd.Flags().StringArrayVar(&headers, "header", nil, "Request header as key=value, repeatable")
	_ = cmd.MarkFlagRequired("endpoint")

	return cmd
}

func newFeedsEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Re-enable a disabled or backing-off feed source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setFeedState(cmd, args[0], store.SourceStatus{State: store.SourceActive})
		},
	}
}

func newFeedsDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Stop polling a feed source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setFeedState(cmd, args[0], store.SourceStatus{
				State: store.SourceDisabled, FailReason: "disabled by operator",
			})
		},
	}
}

func setFeedState(cmd *cobra.Command, name string, status store.SourceStatus) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.store.UpdateFeedSourceStatus(cmd.Context(), name, status); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "feed source %q is now %s\n", name, status.State)
	return nil
}

func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, vaulterrors.New(vaulterrors.ErrCodeConfigInvalid,
				fmt.Sprintf("header %q is not key=value", pair), nil)
		}
		out[key] = value
	}
	return out, nil
}
