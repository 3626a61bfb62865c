package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guestful/ironmq/internal/dlq"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		from  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "replay <queue>",
		Short: "Move dead-lettered messages back onto their queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, release, err := a.connect()
			if err != nil {
				return err
			}
			defer release()

			to, err := p.Queue(args[0])
			if err != nil {
				return err
			}
			if from == "" {
				from = dlq.Name(to.Name(), p.Settings())
			}
			src, err := p.Queue(from)
			if err != nil {
				return err
			}

			n, err := dlq.Replay(cmd.Context(), src, to, limit)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "replayed %d message(s) from %s to %s\n", n, src.Name(), to.Name())
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "error queue to drain (default from settings or <queue>__errors)")
	cmd.Flags().IntVar(&limit, "limit", 0, "replay at most this many messages, 0 drains the error queue")
	return cmd
}
