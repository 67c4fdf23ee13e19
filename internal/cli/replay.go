package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/roach88/jsonsync/internal/journal"
	"github.com/roach88/jsonsync/internal/value"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Replica  string // optional - specific replica only
	Order    string // optional - specific order only
}

// ReplayOrderResult is one replica replayed in one order.
type ReplayOrderResult struct {
	Order  string `json:"order"`
	Digest string `json:"digest"`
}

// ReplayReplicaResult holds the replay result for a single replica.
type ReplayReplicaResult struct {
	Replica   string              `json:"replica"`
	Ops       int                 `json:"ops"`
	Recorded  string              `json:"recorded,omitempty"`
	Orders    []ReplayOrderResult `json:"orders"`
	Converged bool                `json:"converged"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Replicas      []ReplayReplicaResult `json:"replicas"`
	TotalReplicas int                   `json:"total_replicas"`
	AllConverged  bool                  `json:"all_converged"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a journal and verify convergence",
		Long: `Replay every journaled replica into fresh replicas and verify convergence.

Each replica's operations are merged in arrival order, in reverse order
and as one diff in mark order. Every order must reach the same digest,
and that digest must equal the last one the live replica recorded.

Exit codes:
  0 - Every replica converged in every order
  1 - Convergence verification failed (digests differ)
  2 - Command error (journal not found, unknown replica, etc.)

Examples:
  jsonsync replay --db ./jsonsync.db
  jsonsync replay --db ./jsonsync.db --replica alice
  jsonsync replay --db ./jsonsync.db --order reverse --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Replica, "replica", "", "replay specific replica only")
	cmd.Flags().StringVar(&opts.Order, "order", "", "replay in one order only (arrival|reverse|mark)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	orders := journal.Orders
	if opts.Order != "" {
		o, err := journal.ParseOrder(opts.Order)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid order", err)
		}
		orders = []journal.Order{o}
	}

	st, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	var names []string
	if opts.Replica != "" {
		names = []string{opts.Replica}
	} else {
		recs, err := st.ReadReplicas(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list replicas", err)
		}
		for _, rec := range recs {
			names = append(names, rec.Name)
		}
	}

	out := newFormatter(opts.RootOptions, cmd)
	if len(names) == 0 {
		if opts.Format == "json" {
			return out.Success(ReplayResult{Replicas: []ReplayReplicaResult{}, AllConverged: true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No replicas found in journal.")
		return nil
	}

	result := ReplayResult{
		Replicas:      make([]ReplayReplicaResult, 0, len(names)),
		TotalReplicas: len(names),
		AllConverged:  true,
	}
	for _, name := range names {
		rr, err := replayReplica(ctx, st, name, orders, out)
		if errors.Is(err, journal.ErrUnknownReplica) {
			_ = out.Error(ErrCodeNotFound, fmt.Sprintf("replica %q is not in the journal", name), nil)
			return WrapExitError(ExitCommandError, "unknown replica", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay %s", name), err)
		}
		result.Replicas = append(result.Replicas, rr)
		if !rr.Converged {
			result.AllConverged = false
		}
	}

	if opts.Format == "json" {
		if err := out.Respond(result, !result.AllConverged, ErrCodeDiverged, "convergence verification failed"); err != nil {
			return err
		}
	} else {
		outputReplayText(cmd, result)
	}
	if !result.AllConverged {
		return NewExitError(ExitFailure, "convergence verification failed")
	}
	return nil
}

// replayReplica replays one replica in each order. It converges when
// every order agrees and matches the recorded digest, if there is one.
func replayReplica(ctx context.Context, st *journal.Store, name string, orders []journal.Order, out *OutputFormatter) (ReplayReplicaResult, error) {
	rr := ReplayReplicaResult{Replica: name, Converged: true}
	for i, order := range orders {
		res, err := st.Replay(ctx, name, order)
		if err != nil {
			return ReplayReplicaResult{}, err
		}
		rr.Ops = res.Ops
		rr.Recorded = res.Recorded
		rr.Orders = append(rr.Orders, ReplayOrderResult{Order: string(order), Digest: res.Digest})
		if res.Recorded != "" && !res.Match {
			rr.Converged = false
		}
		if i > 0 && res.Digest != rr.Orders[0].Digest {
			rr.Converged = false
		}
		out.VerboseLog("%s (%s, %d ops):\n%s", name, order, res.Ops, litter.Sdump(value.ToAny(res.Content)))
	}
	return rr, nil
}

func outputReplayText(cmd *cobra.Command, result ReplayResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d replica(s)\n", result.TotalReplicas)
	fmt.Fprintln(w)

	for _, rr := range result.Replicas {
		status := "✓"
		if !rr.Converged {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Replica: %s (%d ops)\n", status, rr.Replica, rr.Ops)
		for _, o := range rr.Orders {
			fmt.Fprintf(w, "  %-8s %s\n", o.Order, o.Digest)
		}
		if rr.Recorded != "" {
			fmt.Fprintf(w, "  %-8s %s\n", "recorded", rr.Recorded)
		}
		if !rr.Converged {
			fmt.Fprintln(w, "  Warning: replay orders disagree!")
		}
		fmt.Fprintln(w)
	}

	if result.AllConverged {
		fmt.Fprintln(w, "✓ All replicas converged")
		return
	}
	fmt.Fprintln(w, "✗ Convergence verification failed")
}
