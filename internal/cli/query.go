package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/persistkit/internal/filter"
	"github.com/roach88/persistkit/internal/store"
)

// QueryOptions holds flags for the query and count commands.
type QueryOptions struct {
	*RootOptions
	Entity  string
	Filters []string
	Order   string
	Desc    bool
	Limit   int
}

// CountResult reports the number of matching entities.
type CountResult struct {
	Entity string `json:"entity"`
	Count  int64  `json:"count"`
}

func (r CountResult) String() string { return fmt.Sprint(r.Count) }

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Stream matching entities as JSON lines",
		Long: `Stream the entities matched by a filter, one JSON document per line.

Each --filter restricts one field to a comma-separated list of values.
Fields are combined with AND, values within a field with OR. A field whose
only value is "1" is not restricted. Dotted fields filter on related
entities.

Example:
  persistkit query --entity Advert --filter status=ACTIVE,PAUSED --filter audienceTypes.id=3
  persistkit query --entity Advert --order displayDate --desc --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, cmd)
		},
	}

	addFilterFlags(cmd, opts)
	cmd.Flags().StringVar(&opts.Order, "order", "", "property to order by")
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "order descending")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of entities (0 = unbounded)")

	return cmd
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count matching entities",
		Long: `Count the distinct entities matched by a filter.

Example:
  persistkit count --entity Advert --filter campaignId=7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(opts, cmd)
		},
	}

	addFilterFlags(cmd, opts)
	return cmd
}

func addFilterFlags(cmd *cobra.Command, opts *QueryOptions) {
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity name (required)")
	cmd.Flags().StringArrayVar(&opts.Filters, "filter", nil, "field=v1,v2 restriction (repeatable)")
	_ = cmd.MarkFlagRequired("entity")
}

// ParseFilters turns field=v1,v2 arguments into a filter spec. Repeating a
// field adds to its values.
func ParseFilters(args []string) (filter.Spec, error) {
	spec := filter.Spec{}
	for _, arg := range args {
		field, list, ok := strings.Cut(arg, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q: want field=value[,value...]", arg)
		}
		values := spec[field]
		for _, v := range strings.Split(list, ",") {
			values = append(values, strings.TrimSpace(v))
		}
		spec = spec.Where(field, values...)
	}
	return spec, nil
}

func runQuery(opts *QueryOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	spec, err := ParseFilters(opts.Filters)
	if err != nil {
		return outputError(f, ErrCodeUsage, ExitCommandError, "invalid filter", err)
	}

	l, err := opts.openLayer(cmd, f)
	if err != nil {
		return err
	}
	defer closeLayer(l)

	m, err := l.Mapping(opts.Entity)
	if err != nil {
		return outputError(f, ErrCodeEntity, ExitCommandError, "unknown entity", err)
	}

	var qopts []filter.Option
	if opts.Order != "" {
		qopts = append(qopts, filter.WithOrder(opts.Order, opts.Desc))
	}
	if opts.Limit > 0 {
		qopts = append(qopts, filter.WithLimit(opts.Limit))
	}

	n, err := l.Scan(cmd.Context(), m, spec, func(e store.Persistable) error {
		return f.Line(e)
	}, qopts...)
	if err != nil {
		return outputStoreError(f, "query failed", err)
	}
	f.VerboseLog("Streamed %d %s entities", n, m.Entity)
	return nil
}

func runCount(opts *QueryOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	spec, err := ParseFilters(opts.Filters)
	if err != nil {
		return outputError(f, ErrCodeUsage, ExitCommandError, "invalid filter", err)
	}

	l, err := opts.openLayer(cmd, f)
	if err != nil {
		return err
	}
	defer closeLayer(l)

	m, err := l.Mapping(opts.Entity)
	if err != nil {
		return outputError(f, ErrCodeEntity, ExitCommandError, "unknown entity", err)
	}

	n, err := l.Count(cmd.Context(), m, spec)
	if err != nil {
		return outputStoreError(f, "count failed", err)
	}
	return f.Success(CountResult{Entity: m.Entity, Count: n})
}
