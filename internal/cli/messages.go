package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/guestful/ironmq/pkg/ironmq"
)

// messageView is the JSON line printed for every reserved message.
type messageView struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Timeout int64           `json:"timeout"`
	Body    json.RawMessage `json:"body"`
}

func printMessage(w io.Writer, m *ironmq.Message) error {
	return json.NewEncoder(w).Encode(messageView{
		ID:      m.ID(),
		Queue:   m.Queue().Name(),
		Timeout: int64(m.Timeout() / time.Second),
		Body:    m.Body(),
	})
}

// parseBody keeps valid JSON as is and sends anything else as a JSON string.
func parseBody(arg string) any {
	if json.Valid([]byte(arg)) {
		return json.RawMessage(arg)
	}
	return arg
}

func newOfferCmd(a *app) *cobra.Command {
	var delay time.Duration
	cmd := &cobra.Command{
		Use:   "offer <queue> <body>...",
		Short: "Put messages on a queue",
		Long: `Put one message per body on the queue and print the assigned ids.
A body that is valid JSON is sent as is; anything else is sent as a string.`,
		Args: cobra.MinimumNArgs(2),
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
			bodies := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				bodies = append(bodies, parseBody(arg))
			}

			var ids []string
			if cmd.Flags().Changed("delay") {
				ids, err = q.OfferDelayed(cmd.Context(), delay, bodies...)
			} else {
				ids, err = q.Offer(cmd.Context(), bodies...)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				_, _ = fmt.Fprintln(out, id)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the messages become available")
	return cmd
}

func newPollCmd(a *app) *cobra.Command {
	var (
		wait   time.Duration
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "poll <queue>",
		Short: "Reserve one message and print it",
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
			var m *ironmq.Message
			if cmd.Flags().Changed("wait") {
				m, err = q.PollWait(cmd.Context(), wait)
			} else {
				m, err = q.Poll(cmd.Context())
			}
			if err != nil {
				return err
			}
			if m == nil {
				a.logger.Info("no message available", "queue", q.Name())
				return nil
			}
			if err := printMessage(cmd.OutOrStdout(), m); err != nil {
				return err
			}
			if remove {
				return m.Delete(cmd.Context())
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "long-poll wait, at most 30s")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the message after printing it")
	return cmd
}
