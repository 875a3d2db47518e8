package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessionflow/flowguard/internal/domain/booking"
)

// NewBookingCommand creates the booking command group.
func NewBookingCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Inspect bookings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:           "show <bookingId>",
		Short:         "Print a booking with its payment, session and video call",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBookingShow(rootOpts, cmd, args[0])
		},
	})
	return cmd
}

func runBookingShow(opts *RootOptions, cmd *cobra.Command, ref string) error {
	ctx := context.Background()
	if err := booking.ValidateRef(ref); err != nil {
		return WrapExitError(ExitCommandError, "invalid booking id", err)
	}
	st, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer st.Close()

	b, err := st.GetBooking(ctx, ref)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load booking", err)
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if b == nil {
		_ = out.Error("NOT_FOUND", fmt.Sprintf("booking %s not found", ref))
		return WrapExitError(ExitFailure, "booking not found", booking.ErrNotFound)
	}
	return out.Success(b, func(w io.Writer) { renderBooking(w, b) })
}

func renderBooking(w io.Writer, b *booking.Booking) {
	fmt.Fprintf(w, "Booking %s\n", b.Ref)
	fmt.Fprintf(w, "  client:    %s\n", b.ClientID)
	fmt.Fprintf(w, "  therapist: %s\n", b.TherapistID)
	tx := "-"
	if b.Payment.ExternalTransactionID != nil {
		tx = *b.Payment.ExternalTransactionID
	}
	fmt.Fprintf(w, "  payment:   %s (%d %s, tx %s)\n", b.Payment.State, b.Payment.Amount, b.Payment.Currency, tx)
	fmt.Fprintf(w, "  session:   %s (scheduled %s)\n", b.Session.State, b.Session.ScheduledAt.Format(time.RFC3339))
	if b.Video == nil {
		fmt.Fprintln(w, "  video:     none")
		return
	}
	participants := "nobody"
	if len(b.Video.Participants) > 0 {
		participants = strings.Join(b.Video.Participants, ", ")
	}
	fmt.Fprintf(w, "  video:     %s (present: %s)\n", b.Video.State, participants)
}

// isNotFound reports whether err means the booking does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, booking.ErrNotFound)
}
