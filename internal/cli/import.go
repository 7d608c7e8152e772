package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/persistkit/internal/batch"
	"github.com/roach88/persistkit/internal/filter"
	"github.com/roach88/persistkit/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Entity    string
	File      string
	BatchSize int
	Untracked bool
	Op        string
	User      string
}

// ImportResult summarizes a bulk write.
type ImportResult struct {
	Entity    string `json:"entity"`
	Op        string `json:"op"`
	Processed int    `json:"processed"`
	Flushes   int    `json:"flushes"`
}

func (r ImportResult) String() string {
	return fmt.Sprintf("%s %d %s entities in %d flushes", r.Op, r.Processed, r.Entity, r.Flushes)
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk write entities from a YAML file",
		Long: `Bulk write entities read from a YAML list of property maps.

All entities are written in one unit of work: either every entity is
visible afterwards or none is. The session is flushed and cleared every
--batch entities.

Example:
  persistkit import --entity Screen --file screens.yaml --batch 50
  persistkit import --entity Screen --file screens.yaml --op update --user ops`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "entity name (required)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "YAML file with a list of entities (required)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch", 0, "entities per flush (defaults to the configured batch size)")
	cmd.Flags().BoolVar(&opts.Untracked, "untracked", false, "write through an untracked session")
	cmd.Flags().StringVar(&opts.Op, "op", "insert", "write operation (insert|update|delete)")
	cmd.Flags().StringVar(&opts.User, "user", "", "acting user recorded by the audit trail")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(opts *ImportOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	op, err := batch.ParseOp(opts.Op)
	if err != nil {
		return outputError(f, ErrCodeUsage, ExitCommandError, "invalid operation", err)
	}

	data, err := os.ReadFile(opts.File)
	if err != nil {
		return outputError(f, ErrCodeInput, ExitCommandError, "failed to read input", err)
	}
	var rows []map[string]any
	if err := yaml.Unmarshal(data, &rows); err != nil {
		return outputError(f, ErrCodeInput, ExitCommandError, "failed to parse input", err)
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

	entities := make([]store.Persistable, 0, len(rows))
	for i, row := range rows {
		r, err := DecodeRecord(m, row)
		if err != nil {
			return outputError(f, ErrCodeInput, ExitCommandError, fmt.Sprintf("entity %d", i+1), err)
		}
		r.SetAuditUser(opts.User)
		entities = append(entities, r)
	}
	f.VerboseLog("Read %d %s entities from %s", len(entities), m.Entity, opts.File)

	w := l.Writer()
	if opts.BatchSize > 0 {
		w = batch.New(l.Executor(), opts.BatchSize)
	}
	var wopts []batch.Option
	if opts.Untracked {
		wopts = append(wopts, batch.Untracked())
	}
	res, err := w.WriteAll(cmd.Context(), op, entities, wopts...)
	if err != nil {
		return outputStoreError(f, "import failed", err)
	}
	return f.Success(ImportResult{Entity: m.Entity, Op: op.String(), Processed: res.Processed, Flushes: res.Flushes})
}

// DecodeRecord builds a record of m from a property map, coercing each
// value to its property type. Unknown properties are rejected.
func DecodeRecord(m *store.Mapping, row map[string]any) (*store.Record, error) {
	r := store.NewRecord(m)
	for name, v := range row {
		p, ok := m.Property(name)
		if !ok {
			return nil, fmt.Errorf("%s has no property %q", m.Entity, name)
		}
		cv, err := filter.ForType(p)(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		if err := r.Set(name, cv); err != nil {
			return nil, err
		}
	}
	return r, nil
}
