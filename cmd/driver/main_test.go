package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiny_stm/pkg/stm"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestDemoRetriesTheConflictingTransaction(t *testing.T) {
	out := run(t, "demo")
	assert.Contains(t, out, "Hard disk drive\n")
	assert.Contains(t, out, "Solid state drive next to Hard disk (2 attempts)")
}

func TestConflictingWritesReturnWhenTheReaderFails(t *testing.T) {
	s := stm.New()
	hdd, err := stm.NewRef(stm.New(), "Hard disk", nil)
	require.NoError(t, err)
	ssd, err := stm.NewRef(s, "", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := conflictingWrites(context.Background(), s, hdd, ssd)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, stm.ErrForeignRef)
	case <-time.After(5 * time.Second):
		t.Fatal("conflictingWrites did not return")
	}
}

func TestCounterLosesNoIncrements(t *testing.T) {
	out := run(t, "counter", "--workers", "4", "--increments", "50")
	assert.Equal(t, "counter=200\n", out)

	out = run(t, "counter", "--workers", "1", "--increments", "50", "--peak")
	assert.Equal(t, "counter=50 peak=50\n", out)
}

func TestBankKeepsTheTotal(t *testing.T) {
	out := run(t, "bank", "--accounts", "4", "--transfers", "100", "--workers", "4", "--balance", "10")
	assert.Contains(t, out, "total=40 ")
}

func TestAtomStopsAtTheCeiling(t *testing.T) {
	out := run(t, "atom", "--workers", "4", "--swaps", "10", "--ceiling", "25")
	assert.Equal(t, "value=25 ceiling=25 changes=25 refused=15\n", out)
}

func TestMetricsAreReportedFromAConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("isolation: serializable\n"), 0o600))

	out := run(t, "--config", path, "--metrics", "counter", "--workers", "1", "--increments", "3")
	assert.Contains(t, out, "counter=3\n")
	assert.Contains(t, out, `stm_txn_commits_total{isolation=serializable} 3`)
}
