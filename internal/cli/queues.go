package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/guestful/ironmq/pkg/ironmq"
)

func newQueuesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "List the queues of the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, release, err := a.connect()
			if err != nil {
				return err
			}
			defer release()

			qs, err := p.Queues(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, q := range qs {
				_, _ = fmt.Fprintln(out, q.Name())
			}
			return nil
		},
	}
}

func newSizeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "size <queue>...",
		Short: "Show the size and total message count of queues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, release, err := a.connect()
			if err != nil {
				return err
			}
			defer release()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(w, "QUEUE\tSIZE\tTOTAL")
			for _, name := range args {
				q, err := p.Queue(name)
				if err != nil {
					return err
				}
				size, err := q.Size(cmd.Context())
				if err != nil {
					return err
				}
				total, err := q.Count(cmd.Context())
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(w, "%s\t%d\t%d\n", name, size, total)
			}
			return w.Flush()
		},
	}
}

func newCreateQueueCmd(a *app) *cobra.Command {
	var (
		typ         string
		subscribers []string
	)
	cmd := &cobra.Command{
		Use:   "create-queue <name>",
		Short: "Create or update a pull, unicast or multicast queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			qt, err := ironmq.ParseQueueType(typ)
			if err != nil {
				return err
			}
			if qt == ironmq.PullQueue && len(subscribers) > 0 {
				return errors.New("--subscriber needs a unicast or multicast queue")
			}
			subs := make([]ironmq.Subscriber, 0, len(subscribers))
			for _, u := range subscribers {
				subs = append(subs, ironmq.NewSubscriber(u))
			}

			p, release, err := a.connect()
			if err != nil {
				return err
			}
			defer release()

			q, err := p.NewQueue(cmd.Context(), args[0], qt, subs, p.Settings())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s queue %s\n", qt, q.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "pull", "queue type: pull, unicast or multicast")
	cmd.Flags().StringArrayVar(&subscribers, "subscriber", nil, "push subscriber URL (repeatable)")
	return cmd
}

func newDeleteQueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-queue <name>",
		Short: "Delete a queue and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, release, err := a.connect()
			if err != nil {
				return err
			}
			defer release()

			q, err := p.Queue(args[0])
			if err != nil {
				return err
			}
			deleted, err := q.Delete(cmd.Context())
			if err != nil {
				return err
			}
			if !deleted {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "queue %s not found\n", q.Name())
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted queue %s\n", q.Name())
			return nil
		},
	}
}
