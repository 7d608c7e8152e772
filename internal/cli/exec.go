package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Name   string
	Params []string
}

// ExecResult reports the rows affected by a named statement.
type ExecResult struct {
	Name     string `json:"name"`
	Affected int64  `json:"affected"`
}

func (r ExecResult) String() string {
	return fmt.Sprintf("%s: %d rows affected", r.Name, r.Affected)
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run a named statement from the configuration",
		Long: `Run a named statement declared under "queries" in the configuration.

Parameters are bound by name and coerced for well-known fields. A value
containing commas binds as a list, expanding an IN (:name) clause.

Example:
  persistkit exec --name pauseCampaigns --param campaignId=7,8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "named statement (required)")
	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "name=value parameter (repeatable)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

// ParseParams turns name=value arguments into named parameters. Values
// containing commas become lists.
func ParseParams(args []string) (map[string]any, error) {
	params := make(map[string]any, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: want name=value", arg)
		}
		if strings.Contains(value, ",") {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			params[name] = parts
			continue
		}
		params[name] = value
	}
	return params, nil
}

func runExec(opts *ExecOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	params, err := ParseParams(opts.Params)
	if err != nil {
		return outputError(f, ErrCodeUsage, ExitCommandError, "invalid parameter", err)
	}

	l, err := opts.openLayer(cmd, f)
	if err != nil {
		return err
	}
	defer closeLayer(l)

	if _, ok := l.Query(opts.Name); !ok {
		return outputError(f, ErrCodeUsage, ExitCommandError, fmt.Sprintf("unknown named statement %q", opts.Name), nil)
	}
	n, err := l.ExecNamed(cmd.Context(), opts.Name, params)
	if err != nil {
		return outputStoreError(f, "exec failed", err)
	}
	return f.Success(ExecResult{Name: opts.Name, Affected: n})
}
