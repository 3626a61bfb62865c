package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/guestful/ironmq/internal/journal"
	"github.com/guestful/ironmq/pkg/backoff"
)

func newSettingsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings and the backoff schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.cfg.Settings.Build()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			eq, ok := s.ErrorQueueName()
			if !ok {
				eq = "-"
			}
			rows := [][2]any{
				{"message_timeout", s.MessageTimeout()},
				{"message_delay", s.MessageDelay()},
				{"message_expiration", s.MessageExpiration()},
				{"poll_wait", s.PollWait()},
				{"poll_delete", s.PollDelete()},
				{"push_retries", s.PushRetries()},
				{"push_retry_delay", s.PushRetryDelay()},
				{"error_queue", eq},
				{"backoff_retries", s.BackoffRetries()},
				{"backoff_interval", s.BackoffInterval()},
				{"backoff_factor", s.BackoffFactor()},
			}
			for _, r := range rows {
				_, _ = fmt.Fprintf(w, "%s\t%v\n", r[0], r[1])
			}

			delays := backoff.Delays(s)
			if len(delays) == 0 {
				_, _ = fmt.Fprintln(w, "\nbackoff disabled")
				return w.Flush()
			}
			_, _ = fmt.Fprintln(w, "\nRETRY\tSLEEP")
			for i, d := range delays {
				_, _ = fmt.Fprintf(w, "%d\t%s\n", i+1, d)
			}
			return w.Flush()
		},
	}
}

func newJournalCmd(a *app) *cobra.Command {
	var (
		limit    int
		truncate bool
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List the requests recorded while the client was disabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Client.JournalPath == "" {
				return errors.New("client.journal_path is not set")
			}
			j, err := journal.Open(a.cfg.Client.JournalPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := j.Close(); err != nil {
					a.logger.Warn("close journal", "err", err)
				}
			}()

			if truncate {
				n, err := j.Len()
				if err != nil {
					return err
				}
				if err := j.Truncate(); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d record(s)\n", n)
				return nil
			}

			entries, err := j.List(limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many records, oldest first; 0 prints all")
	cmd.Flags().BoolVar(&truncate, "truncate", false, "remove every record instead of listing them")
	return cmd
}
