package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"messkit/internal/config"
	"messkit/internal/recorder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig keeps logs and traces inside the test's temp dir.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	traceDir := filepath.Join(dir, "traces")
	body := "logging:\n  file: " + filepath.Join(dir, "messkit.log") + "\n" +
		"recorder:\n  trace_dir: " + traceDir + "\n" +
		"creative:\n  billable: mdtn\n  tracking_endpoint: https://beacons.example/t\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path, traceDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBeaconCommand(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "--no-workspace", "--config", cfgPath, "beacon", "--size", "300x250", "--style", "Spring Sale", "--json")
	require.NoError(t, err)

	var payload struct {
		Details struct {
			PO string `json:"po"`
			C  string `json:"c"`
		} `json:"details"`
		Beacons map[string]string `json:"beacons"`
		Sent    bool              `json:"sent"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, "MDTN", payload.Details.PO)
	assert.Equal(t, "spring_sale-300x250", payload.Details.C)
	assert.False(t, payload.Sent)
	require.Contains(t, payload.Beacons, "impression")
	assert.True(t, strings.HasPrefix(payload.Beacons["impression"], "https://beacons.example/t?"))
	assert.Contains(t, payload.Beacons["exit"], "count=exit")
}

func TestBeaconCommandRejectsUnknownKind(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, "--no-workspace", "--config", cfgPath, "beacon", "--kind", "hover")
	assert.ErrorContains(t, err, "unknown beacon kind")
}

func TestInitCommand(t *testing.T) {
	root := t.TempDir()
	out, err := execute(t, "init", root)
	require.NoError(t, err)
	assert.Contains(t, out, "initialized workspace")

	schema, err := os.ReadFile(filepath.Join(root, config.WorkspaceDirName, "schemas", "creative.mg"))
	require.NoError(t, err)
	assert.Contains(t, string(schema), "tracked_exit")

	_, err = execute(t, "init", root)
	assert.Error(t, err, "second init must fail")
}

func writeTrace(t *testing.T, traceDir string) string {
	t.Helper()
	rec, err := recorder.NewRecorder(traceDir)
	require.NoError(t, err)
	require.NoError(t, rec.Start("test"))
	rec.Log(recorder.EventUnitCreated, "u1", map[string]any{"window_name": ""})
	rec.Log(recorder.EventBeacon, "u1", "https://beacons.example/t?c=x&count=impression&ord=1&po=MDTN")
	rec.Log(recorder.EventModeResolved, "u1", map[string]any{"mode": "live"})
	rec.Log(recorder.EventExitOpened, "u1", "https://brand.example")
	rec.Log(recorder.EventBeacon, "u1", "https://beacons.example/t?c=x&count=exit&ord=2&po=MDTN")
	rec.Log(recorder.EventUnitCreated, "u2", map[string]any{"window_name": "mess-dev"})
	rec.Log(recorder.EventMessagePosted, "u2", map[string]any{"kind": "MESS_CLIENT_HERE"})
	path := rec.Path()
	require.NoError(t, rec.Close())
	return path
}

func TestInspectSummary(t *testing.T) {
	cfgPath, traceDir := writeTestConfig(t)
	path := writeTrace(t, traceDir)

	out, err := execute(t, "--no-workspace", "--config", cfgPath, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "7 events, 2 units")
	assert.Contains(t, out, "u1  window=(live)  mode=live")
	assert.Contains(t, out, "u2  window=mess-dev  mode=unresolved")
	assert.Contains(t, out, "exit -> https://brand.example")
}

func TestInspectLatestTraceJSON(t *testing.T) {
	cfgPath, traceDir := writeTestConfig(t)
	writeTrace(t, traceDir)

	out, err := execute(t, "--no-workspace", "--config", cfgPath, "inspect", "--json")
	require.NoError(t, err)

	var payload struct {
		Events int            `json:"events"`
		Units  []*unitSummary `json:"units"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	assert.Equal(t, 7, payload.Events)
	require.Len(t, payload.Units, 2)
	assert.Equal(t, 2, payload.Units[0].Events[recorder.EventBeacon])
}

func TestInspectQuery(t *testing.T) {
	cfgPath, traceDir := writeTestConfig(t)
	path := writeTrace(t, traceDir)

	out, err := execute(t, "--no-workspace", "--config", cfgPath, "inspect", path, "--query", "tracked_exit(U, Url).")
	require.NoError(t, err)
	assert.Contains(t, out, "U=u1 Url=https://brand.example")
	assert.Contains(t, out, "1 results")

	out, err = execute(t, "--no-workspace", "--config", cfgPath, "inspect", path, "--query", "impression_tracked(U).")
	require.NoError(t, err)
	assert.Contains(t, out, "U=u1")
}

func TestInspectWithoutTraces(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)
	_, err := execute(t, "--no-workspace", "--config", cfgPath, "inspect")
	assert.ErrorContains(t, err, "no traces")
}

func TestFactFromEvent(t *testing.T) {
	ts := time.UnixMilli(1700000000000)

	f, ok := factFromEvent(recorder.Event{Timestamp: ts, Type: recorder.EventBeacon, UnitID: "u1", Data: "https://t.example/?count=exit"})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"u1", "exit", int64(1700000000000)}, f.Args)

	f, ok = factFromEvent(recorder.Event{Timestamp: ts, Type: recorder.EventFieldSet, UnitID: "u1", Data: map[string]interface{}{"field": "headline"}})
	require.True(t, ok)
	assert.Equal(t, "headline", f.Args[1])

	_, ok = factFromEvent(recorder.Event{Type: recorder.EventUnitClosed, UnitID: "u1"})
	assert.False(t, ok)
}
