package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/companion/internal/report"
)

func TestBatchSummarySortsAndFlattensErrors(t *testing.T) {
	out := batchSummary(report.BatchResult{
		Date:      "2026-03-01",
		Generated: []string{"carol", "alice"},
		Skipped:   []string{"bob"},
		Failed:    map[string]error{"dave": errors.New("gateway down")},
	})

	assert.Equal(t, []string{"alice", "carol"}, out.Generated)
	assert.Equal(t, map[string]string{"dave": "gateway down"}, out.Failed)

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	require.NoError(t, printJSON(cmd, out))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2026-03-01", decoded["date"])
	assert.Contains(t, decoded, "failed")
}

func TestBatchSummaryOmitsEmptyFailures(t *testing.T) {
	out := batchSummary(report.BatchResult{Date: "2026-03-01", Failed: map[string]error{}})
	assert.Nil(t, out.Failed)
}

func TestReportRunRequiresUser(t *testing.T) {
	rootCmd.SetArgs([]string{"report", "run"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user")
}
