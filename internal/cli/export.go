package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/internal/storage/parquet"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Sensors     []int64
	From        string
	To          string
	Out         string
	Compression string
}

// ExportResult is printed after a successful export.
type ExportResult struct {
	Path    string  `json:"path"`
	Rows    int64   `json:"rows"`
	Sensors []int64 `json:"sensors"`
	From    int64   `json:"from"`
	To      int64   `json:"to"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export raw samples to a Parquet file",
		Long: `Export the raw samples of one or more sensors to a Parquet file with
columns entity_id, ts_utc and value.

--from and --to accept Unix seconds, RFC 3339 timestamps, or a duration
before now such as 24h. --to defaults to now.

Examples:
  sensorctl export --from 24h --out last-day.parquet
  sensorctl export --sensor 1,2 --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z --out jan.parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, time.Now())
		},
	}

	cmd.Flags().Int64SliceVarP(&opts.Sensors, "sensor", "s", []int64{1, 2}, "sensor ids")
	cmd.Flags().StringVar(&opts.From, "from", "", "range start (required)")
	_ = cmd.MarkFlagRequired("from")
	cmd.Flags().StringVar(&opts.To, "to", "", "range end (default now)")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")
	cmd.Flags().StringVar(&opts.Compression, "compression", "zstd", "compression: zstd, snappy, lz4, gzip, none")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, now time.Time) error {
	from, err := parseTime(opts.From, now)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --from", err)
	}
	to := now.Unix()
	if opts.To != "" {
		if to, err = parseTime(opts.To, now); err != nil {
			return WrapExitError(ExitCommandError, "invalid --to", err)
		}
	}
	if to < from {
		return NewExitError(ExitCommandError, "--to is before --from")
	}

	compression, err := parquet.ParseCompressionType(opts.Compression)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --compression", err)
	}
	popts := parquet.DefaultOptions()
	popts.Compression = compression

	entities := make([]types.EntityID, 0, len(opts.Sensors))
	for _, id := range opts.Sensors {
		if id <= 0 {
			return NewExitError(ExitCommandError, fmt.Sprintf("invalid sensor id %d", id))
		}
		entities = append(entities, id)
	}

	return opts.run(cmd, func(ctx context.Context, s *session) error {
		rows, err := parquet.Export(ctx, s.store, entities, from, to, opts.Out, popts)
		if err != nil {
			return err
		}

		result := ExportResult{Path: opts.Out, Rows: rows, Sensors: opts.Sensors, From: from, To: to}
		return newPrinter(cmd.OutOrStdout(), opts.JSON).print(result, func(t *tablewriter.Table) {
			t.SetHeader([]string{"file", "rows", "from", "to"})
			t.Append([]string{opts.Out, strconv.FormatInt(rows, 10), formatTS(from), formatTS(to)})
		})
	})
}

// parseTime accepts Unix seconds, RFC 3339, or a duration before now.
func parseTime(s string, now time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty time")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d).Unix(), nil
	}
	return 0, fmt.Errorf("%q is not Unix seconds, RFC 3339 or a duration", s)
}
