package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/persistkit/internal/store"
	"github.com/roach88/persistkit/internal/uow"
)

// PingResult reports a successful round trip to the database.
type PingResult struct {
	Dialect  string   `json:"dialect"`
	Entities []string `json:"entities"`
}

func (r PingResult) String() string {
	return fmt.Sprintf("ok dialect=%s entities=%s", r.Dialect, strings.Join(r.Entities, ","))
}

// NewPingCommand creates the ping command.
func NewPingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the configured database is reachable",
		Long: `Open the configured database and run a trivial query in a unit of work.

Example:
  persistkit ping --config ./persistkit.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(rootOpts, cmd)
		},
	}
}

func runPing(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	l, err := opts.openLayer(cmd, f)
	if err != nil {
		return err
	}
	defer closeLayer(l)

	op := uow.Operation{Description: "ping", Query: "SELECT 1", Untracked: true, ReadOnly: true}
	_, err = uow.Do(cmd.Context(), l.Executor(), op, func(ctx context.Context, s *store.Session) (int, error) {
		var one int
		err := s.QueryRow(ctx, "SELECT 1").Scan(&one)
		return one, err
	})
	if err != nil {
		return outputStoreError(f, "ping failed", err)
	}
	return f.Success(PingResult{Dialect: l.Context.Dialect().String(), Entities: l.Entities()})
}
