package extract_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/plugdev/plugdev"
	"github.com/plugdev/plugdev/extract"
)

// The test binary doubles as the extraction child, steered by environment
// variables. This is the usual os/exec testing pattern.
func TestMain(m *testing.M) {
	switch os.Getenv("PLUGDEV_TEST_CHILD") {
	case "":
		os.Exit(m.Run())
	case "ok-params":
		params := []plugdev.ParameterInfo{{ID: "gain", Name: "Gain", Default: 0.5, Value: 0.5}}
		line, _ := json.Marshal(params)
		fmt.Println(string(line))
		os.Exit(0)
	case "ok-processors":
		fmt.Println(`[{"id":"osc"},{"id":"filter"}]`)
		os.Exit(0)
	case "hang":
		select {}
	case "fail":
		fmt.Fprintln(os.Stderr, "missing symbol: plugdev_metadata")
		os.Exit(3)
	}
}

func fakeModule(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.so")
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF fake"), 0o755))
	return path
}

func childExtractor(t *testing.T, mode string, timeout time.Duration) *extract.Extractor {
	t.Helper()
	e := extract.New(zaptest.NewLogger(t))
	e.SelfPath = os.Args[0]
	e.Timeout = timeout
	t.Setenv("PLUGDEV_TEST_CHILD", mode)
	return e
}

func TestParamsSuccess(t *testing.T) {
	e := childExtractor(t, "ok-params", 10*time.Second)
	params, err := e.Params(context.Background(), fakeModule(t))
	require.NoError(t, err)
	require.Len(t, params, 1)
	require.Equal(t, "gain", params[0].ID)
	require.InDelta(t, 0.5, params[0].Default, 1e-6)
}

func TestProcessorsSuccess(t *testing.T) {
	e := childExtractor(t, "ok-processors", 10*time.Second)
	procs, err := e.Processors(context.Background(), fakeModule(t))
	require.NoError(t, err)
	require.Equal(t, []plugdev.ProcessorInfo{{ID: "osc"}, {ID: "filter"}}, procs)
}

func TestHangingChildIsKilledAtTimeout(t *testing.T) {
	e := childExtractor(t, "hang", 500*time.Millisecond)
	start := time.Now()
	_, err := e.Params(context.Background(), fakeModule(t))
	took := time.Since(start)
	require.Error(t, err)
	require.True(t, extract.IsTimeout(err), "expected timeout-shaped error, got %v", err)
	require.Less(t, took, 5*time.Second, "caller must not wait much past the timeout")
	require.Contains(t, err.Error(), "static initializer")
}

func TestNonZeroExitSurfacesStderr(t *testing.T) {
	e := childExtractor(t, "fail", 10*time.Second)
	_, err := e.Params(context.Background(), fakeModule(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing symbol: plugdev_metadata")
	require.False(t, extract.IsTimeout(err))
}

func TestCancelledContextKillsChild(t *testing.T) {
	e := childExtractor(t, "hang", time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := e.Params(ctx, fakeModule(t))
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestMissingModuleFile(t *testing.T) {
	e := childExtractor(t, "ok-params", time.Second)
	_, err := e.Params(context.Background(), filepath.Join(t.TempDir(), "absent.so"))
	require.Error(t, err)
}
