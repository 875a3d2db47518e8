package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sessionflow/flowguard/internal/application/engine"
	"github.com/sessionflow/flowguard/internal/domain/callback"
)

// ReplayFile is the YAML batch of gateway callbacks fed through ingestion.
type ReplayFile struct {
	Callbacks []callback.GatewayCallback `yaml:"callbacks"`
}

// ReplayOutcome is what happened to one callback.
type ReplayOutcome struct {
	ExternalTransactionID string `json:"external_transaction_id"`
	BookingRef            string `json:"booking_id"`
	Outcome               string `json:"outcome"` // applied | duplicate | rejected
	Error                 string `json:"error,omitempty"`
}

// ReplayResult holds the outcome of every callback in file order.
type ReplayResult struct {
	Callbacks []ReplayOutcome `json:"callbacks"`
	Applied   int             `json:"applied"`
	Duplicate int             `json:"duplicate"`
	Rejected  int             `json:"rejected"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file.yaml>",
		Short: "Feed a batch of gateway callbacks through idempotent ingestion",
		Long: `Ingest every callback in a YAML file in order, as if the gateway had
delivered them. Redelivered callbacks are reported as duplicates and change nothing.

File format:
  callbacks:
    - externalTransactionId: TX1
      bookingId: SS-20250101-0001
      amount: 2500
      status: success

Exit codes:
  0 - Every callback applied or was a duplicate
  1 - At least one callback was rejected
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, cmd, args[0])
		},
	}
}

func runReplay(opts *RootOptions, cmd *cobra.Command, path string) error {
	ctx := context.Background()

	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read replay file", err)
	}
	var file ReplayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse replay file", err)
	}

	st, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer st.Close()
	svc, err := engine.NewService(engine.Deps{Store: st}, engine.Options{SigningKey: opts.SigningKey}, zerolog.Nop())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	result := ReplayResult{Callbacks: make([]ReplayOutcome, 0, len(file.Callbacks))}
	for _, cb := range file.Callbacks {
		o := ReplayOutcome{ExternalTransactionID: cb.ExternalTransactionID, BookingRef: cb.BookingRef}
		res, err := svc.IngestCallback(ctx, cb)
		switch {
		case err != nil:
			o.Outcome = "rejected"
			o.Error = err.Error()
			result.Rejected++
		case res.Duplicate:
			o.Outcome = "duplicate"
			result.Duplicate++
		default:
			o.Outcome = "applied"
			result.Applied++
		}
		result.Callbacks = append(result.Callbacks, o)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if err := out.Success(result, func(w io.Writer) { renderReplay(w, result) }); err != nil {
		return err
	}
	if result.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d callback(s) rejected", result.Rejected))
	}
	return nil
}

func renderReplay(w io.Writer, r ReplayResult) {
	if len(r.Callbacks) == 0 {
		fmt.Fprintln(w, "No callbacks in file.")
		return
	}
	for _, o := range r.Callbacks {
		line := fmt.Sprintf("%-10s %s  %s", o.Outcome, o.ExternalTransactionID, o.BookingRef)
		if o.Error != "" {
			line += "  " + o.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n%d applied, %d duplicate, %d rejected\n", r.Applied, r.Duplicate, r.Rejected)
}
