package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/dreamware/sortmesh/internal/cluster"
)

func (o *rootOptions) url(path string) string {
	return strings.TrimRight(o.server, "/") + path
}

func newWorkersCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp cluster.WorkersResponse
			if err := cluster.GetJSON(cmd.Context(), root.url("/api/v1/workers"), &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tADDR\tSTATUS\tREGISTERED\tLAST PROBE")
			for _, w := range resp.Workers {
				lastProbe := "-"
				if w.LastProbe != nil {
					lastProbe = w.LastProbe.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", w.Index, w.Addr, w.Status, w.RegisteredAt.Format(time.RFC3339), lastProbe)
			}
			return tw.Flush()
		},
	}
}

func newSortCmd(root *rootOptions) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "sort [file]",
		Short: "Sort integers on the connected workers",
		Long: `Read integers from file (or stdin when file is omitted or "-") and sort them
on the coordinator's workers. Input is either a JSON array or integers separated
by whitespace or commas. The sorted values go to stdout, the job report to
stderr.`,
		Example: `  coordinator sort numbers.txt
  echo "9 3 7 1" | coordinator sort
  coordinator sort --local numbers.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			values, err := parseValues(in)
			if err != nil {
				return err
			}

			path := "/api/v1/sort"
			if local {
				path += "?mode=" + cluster.ModeLocal
			}

			var resp cluster.SortResponse
			err = cluster.PostJSON(cmd.Context(), root.url(path), cluster.SortRequest{Values: values}, &resp)
			var apiErr *cluster.APIError
			if err != nil && !(errors.As(err, &apiErr) && resp.Mode != "") {
				return err
			}

			writeValues(cmd.OutOrStdout(), resp.Values)
			writeReport(cmd.ErrOrStderr(), &resp)
			return err
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "sort in the coordinator process instead of on workers")
	return cmd
}

func newProbeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe [addr...]",
		Short: "Probe worker liveness",
		Long: `Probe the named addresses, or every registered worker when none is given.
Results are printed as they arrive.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return cluster.StreamJSON(cmd.Context(), root.url("/api/v1/probe"), cluster.ProbeRequest{Addrs: args},
				func(line []byte) error {
					var res cluster.ProbeResult
					if err := sonic.Unmarshal(line, &res); err != nil {
						return fmt.Errorf("decode probe result: %w", err)
					}
					fmt.Fprintf(out, "%s\t%s\t%s\t%v\n", res.Addr, res.Target, res.Status, res.Latency)
					return nil
				})
		},
	}
}

func newEvictCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evict-offline",
		Short: "Remove workers whose last probe failed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp cluster.EvictResponse
			if err := cluster.PostJSON(cmd.Context(), root.url("/api/v1/workers/evict-offline"), struct{}{}, &resp); err != nil {
				return err
			}
			for _, addr := range resp.Evicted {
				fmt.Fprintln(cmd.OutOrStdout(), addr)
			}
			return nil
		},
	}
}

// parseValues reads a JSON array of integers, or integers separated by
// whitespace or commas.
func parseValues(r io.Reader) ([]int32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	data = bytes.TrimSpace(data)

	if bytes.HasPrefix(data, []byte("[")) {
		var values []int32
		if err := sonic.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse JSON input: %w", err)
		}
		return values, nil
	}

	fields := strings.FieldsFunc(string(data), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	values := make([]int32, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
		values = append(values, int32(v))
	}
	return values, nil
}

func writeValues(w io.Writer, values []int32) {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatInt(int64(v), 10))
	}
	fmt.Fprintln(w, b.String())
}

func writeReport(w io.Writer, resp *cluster.SortResponse) {
	for _, f := range resp.Failures {
		fmt.Fprintf(w, "chunk %d on %s failed: %s\n", f.Chunk, f.Worker, f.Error)
	}
	r := resp.Report
	if r == nil {
		return
	}
	fmt.Fprintf(w, "job %s (%s): %d values, %d chunks on %d workers\n", r.ID, resp.Mode, r.InputLen, r.Chunks, r.Workers)
	fmt.Fprintf(w, "wall %v, communication %v, compute %v\n", r.Wall, r.Communication, r.Compute)
	if r.Chunks > 0 && r.Workers > 0 {
		fmt.Fprintf(w, "round trip p50 %v, p99 %v, max %v\n", r.RoundTripP50, r.RoundTripP99, r.RoundTripMax)
	}
}
