package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sessionflow/flowguard/internal/domain/flow"
)

// TableRow is one state of a transition table or one row of a sync matrix.
type TableRow struct {
	State   string   `json:"state"`
	Allowed []string `json:"allowed"`
}

// Table is a named list of rows.
type Table struct {
	Name string     `json:"name"`
	Rows []TableRow `json:"rows"`
}

// NewTablesCommand creates the tables command.
func NewTablesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tables",
		Short:         "Print the transition tables and sync matrices",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := BuildTables()
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(tables, func(w io.Writer) { RenderTables(w, tables) })
		},
	}
}

// BuildTables collects every transition table followed by both sync matrices.
func BuildTables() []Table {
	payment := Table{Name: string(flow.EntityPayment)}
	for _, s := range flow.PaymentStates {
		next, _ := s.Next()
		payment.Rows = append(payment.Rows, TableRow{State: string(s), Allowed: strs(next)})
	}
	session := Table{Name: string(flow.EntitySession)}
	for _, s := range flow.SessionStates {
		next, _ := s.Next()
		session.Rows = append(session.Rows, TableRow{State: string(s), Allowed: strs(next)})
	}
	video := Table{Name: string(flow.EntityVideo)}
	for _, s := range flow.VideoStates {
		next, _ := s.Next()
		video.Rows = append(video.Rows, TableRow{State: string(s), Allowed: strs(next)})
	}

	paymentSession := Table{Name: "PAYMENT x SESSION"}
	for _, p := range flow.PaymentStates {
		paymentSession.Rows = append(paymentSession.Rows, TableRow{State: string(p), Allowed: strs(flow.SessionsAllowedWith(p))})
	}
	sessionVideo := Table{Name: "SESSION x VIDEO_CALL"}
	for _, s := range flow.SessionStates {
		sessionVideo.Rows = append(sessionVideo.Rows, TableRow{State: string(s), Allowed: strs(flow.VideosAllowedWith(s))})
	}
	return []Table{payment, session, video, paymentSession, sessionVideo}
}

// RenderTables writes tables in the human-readable layout.
func RenderTables(w io.Writer, tables []Table) {
	for i, t := range tables {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, t.Name)
		matrix := strings.Contains(t.Name, " x ")
		for _, r := range t.Rows {
			switch {
			case matrix:
				fmt.Fprintf(w, "  %s: %s\n", r.State, strings.Join(r.Allowed, ", "))
			case len(r.Allowed) == 0:
				fmt.Fprintf(w, "  %s (terminal)\n", r.State)
			default:
				fmt.Fprintf(w, "  %s -> %s\n", r.State, strings.Join(r.Allowed, ", "))
			}
		}
	}
}

func strs[S ~string](in []S) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}
