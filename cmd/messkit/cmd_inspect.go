package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"messkit/internal/config"
	"messkit/internal/mangle"
	"messkit/internal/recorder"

	"github.com/spf13/cobra"
)

func newInspectCmd(opts *rootOptions) *cobra.Command {
	var query string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect [trace.jsonl]",
		Short: "Summarize a recorded trace, or query it with Mangle",
		Long: `Reads a JSONL trace written by 'messkit serve' with recording enabled.
Without an argument the newest trace in recorder.trace_dir is used.

With --query the trace is replayed into a fresh Mangle engine and the query
is evaluated against it, e.g.:

  messkit inspect --query 'tracked_exit(U, Url).'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				latest, err := latestTrace(opts.cfg.Recorder.TraceDir)
				if err != nil {
					return err
				}
				path = latest
			}

			events, err := recorder.ReadTrace(path)
			if err != nil {
				return fmt.Errorf("read trace: %w", err)
			}

			out := cmd.OutOrStdout()
			if query != "" {
				return runTraceQuery(cmd.Context(), out, opts.cfg.Mangle, events, query, asJSON)
			}
			return printTraceSummary(out, path, events, asJSON)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Mangle query evaluated over the replayed trace")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}

func latestTrace(dir string) (string, error) {
	rec, err := recorder.NewRecorder(dir)
	if err != nil {
		return "", err
	}
	traces, err := rec.Traces()
	if err != nil {
		return "", err
	}
	if len(traces) == 0 {
		return "", fmt.Errorf("no traces in %s", dir)
	}
	return traces[0], nil
}

// unitSummary aggregates the events of one unit.
type unitSummary struct {
	ID         string         `json:"id"`
	WindowName string         `json:"window_name"`
	Mode       string         `json:"mode,omitempty"`
	Events     map[string]int `json:"events"`
	Exits      []string       `json:"exits,omitempty"`
	First      time.Time      `json:"first"`
	Last       time.Time      `json:"last"`
}

func summarize(events []recorder.Event) []*unitSummary {
	byID := make(map[string]*unitSummary)
	for _, e := range events {
		s, ok := byID[e.UnitID]
		if !ok {
			s = &unitSummary{ID: e.UnitID, Events: make(map[string]int), First: e.Timestamp}
			byID[e.UnitID] = s
		}
		s.Events[e.Type]++
		s.Last = e.Timestamp

		switch e.Type {
		case recorder.EventUnitCreated:
			s.WindowName = dataString(e.Data, "window_name")
		case recorder.EventModeResolved:
			s.Mode = dataString(e.Data, "mode")
		case recorder.EventExitOpened:
			s.Exits = append(s.Exits, dataString(e.Data, ""))
		}
	}

	out := make([]*unitSummary, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].First.Equal(out[j].First) {
			return out[i].ID < out[j].ID
		}
		return out[i].First.Before(out[j].First)
	})
	return out
}

func printTraceSummary(w io.Writer, path string, events []recorder.Event, asJSON bool) error {
	units := summarize(events)
	if asJSON {
		return writeJSON(w, map[string]interface{}{
			"trace":  path,
			"events": len(events),
			"units":  units,
		})
	}

	fmt.Fprintf(w, "%s: %d events, %d units\n", path, len(events), len(units))
	for _, u := range units {
		mode := u.Mode
		if mode == "" {
			mode = "unresolved"
		}
		window := u.WindowName
		if window == "" {
			window = "(live)"
		}
		fmt.Fprintf(w, "\n%s  window=%s  mode=%s\n", u.ID, window, mode)

		types := make([]string, 0, len(u.Events))
		for t := range u.Events {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "  %-16s %d\n", t, u.Events[t])
		}
		for _, exit := range u.Exits {
			fmt.Fprintf(w, "  exit -> %s\n", exit)
		}
	}
	return nil
}

func runTraceQuery(ctx context.Context, w io.Writer, cfg config.MangleConfig, events []recorder.Event, query string, asJSON bool) error {
	cfg.Enable = true
	cfg.FactBufferLimit = 0
	engine, err := mangle.NewEngine(cfg, nil)
	if err != nil {
		return fmt.Errorf("initialize mangle engine: %w", err)
	}

	facts := make([]mangle.Fact, 0, len(events))
	for _, e := range events {
		if f, ok := factFromEvent(e); ok {
			facts = append(facts, f)
		}
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		return fmt.Errorf("replay trace: %w", err)
	}

	results, err := engine.Query(ctx, query)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(w, map[string]interface{}{"results": results, "count": len(results)})
	}

	for _, r := range results {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, r[k])
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
	}
	fmt.Fprintf(w, "%d results\n", len(results))
	return nil
}

// factFromEvent rebuilds the fact the harness asserted alongside a trace
// event. Events without a fact form report false.
func factFromEvent(e recorder.Event) (mangle.Fact, bool) {
	var arg string
	switch e.Type {
	case recorder.EventUnitCreated:
		arg = dataString(e.Data, "window_name")
	case recorder.EventModeResolved:
		arg = dataString(e.Data, "mode")
	case recorder.EventMessagePosted:
		arg = dataString(e.Data, "kind")
	case recorder.EventPropUpdate:
		arg = dataString(e.Data, "prop")
	case recorder.EventFieldSet:
		arg = dataString(e.Data, "field")
	case recorder.EventExitOpened:
		arg = dataString(e.Data, "")
	case recorder.EventBeacon:
		u, err := url.Parse(dataString(e.Data, ""))
		if err != nil {
			return mangle.Fact{}, false
		}
		arg = u.Query().Get("count")
	default:
		return mangle.Fact{}, false
	}
	return mangle.Fact{
		Predicate: e.Type,
		Args:      []interface{}{e.UnitID, arg, e.Timestamp.UnixMilli()},
		Timestamp: e.Timestamp,
	}, true
}

// dataString reads key from a decoded event payload. An empty key reads the
// payload itself as a string.
func dataString(data interface{}, key string) string {
	if key == "" {
		s, _ := data.(string)
		return s
	}
	m, ok := data.(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
