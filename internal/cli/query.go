package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/internal/storage/query"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// =============================================================================
// latest
// =============================================================================

// LatestOptions holds flags for the latest command.
type LatestOptions struct {
	*RootOptions
	Sensor int64
	N      int
}

// NewLatestCommand creates the latest command.
func NewLatestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LatestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the newest samples of a sensor",
		Long: `Show the newest samples of a sensor, newest first.

Examples:
  sensorctl latest
  sensorctl latest --sensor 2 -n 10 --db data/db.sqlite`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				rows, err := s.svc.Latest(ctx, opts.Sensor, opts.N)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), opts.JSON).print(rows, func(t *tablewriter.Table) {
					t.SetHeader([]string{"time", "ts", "value"})
					for _, r := range rows {
						t.Append([]string{formatTS(r.TS), strconv.FormatInt(r.TS, 10), fmt.Sprintf("%.2f", r.Value)})
					}
				})
			})
		},
	}

	cmd.Flags().Int64VarP(&opts.Sensor, "sensor", "s", 1, "sensor id")
	cmd.Flags().IntVarP(&opts.N, "count", "n", 1, "number of samples")

	return cmd
}

// =============================================================================
// series
// =============================================================================

// RangeOptions holds the range flags shared by series and summary.
type RangeOptions struct {
	*RootOptions
	Sensor   int64
	Range    string
	Duration int64
	Bucket   int64
}

func (o *RangeOptions) bind(cmd *cobra.Command) {
	cmd.Flags().Int64VarP(&o.Sensor, "sensor", "s", 1, "sensor id")
	cmd.Flags().StringVarP(&o.Range, "range", "r", "", "range tag: 1h, 1d, 7d, 30d")
	cmd.Flags().Int64Var(&o.Duration, "duration", 0, "range length in seconds (instead of --range)")
	cmd.Flags().Int64Var(&o.Bucket, "bucket", 0, "bucket width in seconds")
	cmd.MarkFlagsMutuallyExclusive("range", "duration")
}

func (o *RangeOptions) resolve(s *session) (types.EntityID, query.RangeSpec, error) {
	if o.Sensor <= 0 {
		return 0, query.RangeSpec{}, NewExitError(ExitCommandError, "--sensor must be positive")
	}
	spec, err := query.ResolveRange(o.Range, o.Duration, o.Bucket, s.svc.MinBucketSec())
	if err != nil {
		return 0, query.RangeSpec{}, WrapExitError(ExitCommandError, "invalid range", err)
	}
	return o.Sensor, spec, nil
}

// NewSeriesCommand creates the series command.
func NewSeriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RangeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "series",
		Short: "Show bucketed averages of a sensor",
		Long: `Show the dense bucketed average series of a sensor, ending now.
Buckets without samples print as "-".

Examples:
  sensorctl series --range 1d
  sensorctl series --sensor 2 --duration 7200 --bucket 300 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				entity, spec, err := opts.resolve(s)
				if err != nil {
					return err
				}
				series, err := s.svc.Series(ctx, entity, spec)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), opts.JSON).print(series, func(t *tablewriter.Table) {
					t.SetHeader([]string{fmt.Sprintf("bucket (%ds)", series.BucketSec), "ts", "avg"})
					for _, p := range series.Points {
						t.Append([]string{formatTS(p.TS), strconv.FormatInt(p.TS, 10), formatValue(p.Avg)})
					}
				})
			})
		},
	}
	opts.bind(cmd)

	return cmd
}

// =============================================================================
// summary
// =============================================================================

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RangeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show distribution statistics of a sensor",
		Long: `Show count, min, max, mean and approximate percentiles of the raw
samples of a sensor over a range ending now.

Examples:
  sensorctl summary --range 7d
  sensorctl summary --sensor 2 --duration 86400`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				entity, spec, err := opts.resolve(s)
				if err != nil {
					return err
				}
				sum, err := s.svc.Summary(ctx, entity, spec)
				if err != nil {
					return err
				}
				return newPrinter(cmd.OutOrStdout(), opts.JSON).print(sum, func(t *tablewriter.Table) {
					t.Append([]string{"sensor", strconv.FormatInt(int64(sum.Entity), 10)})
					t.Append([]string{"from", formatTS(sum.From)})
					t.Append([]string{"to", formatTS(sum.To)})
					t.Append([]string{"count", strconv.FormatInt(sum.Count, 10)})
					if sum.IsEmpty() {
						return
					}
					t.Append([]string{"min", fmt.Sprintf("%.2f", sum.Min)})
					t.Append([]string{"max", fmt.Sprintf("%.2f", sum.Max)})
					t.Append([]string{"avg", fmt.Sprintf("%.2f", sum.Avg)})
					t.Append([]string{"p50", formatValue(sum.P50)})
					t.Append([]string{"p90", formatValue(sum.P90)})
					t.Append([]string{"p95", formatValue(sum.P95)})
					t.Append([]string{"p99", formatValue(sum.P99)})
				})
			})
		},
	}
	opts.bind(cmd)

	return cmd
}
