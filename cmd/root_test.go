package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"research", "batch", "cache", "runs", "serve"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestCacheCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range cacheCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"status", "summary", "clear", "reset", "export", "import"} {
		assert.True(t, names[want], "missing cache subcommand %s", want)
	}
}

func TestRunsCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"list", "show", "stats"} {
		assert.True(t, names[want], "missing runs subcommand %s", want)
	}
	require.NotNil(t, runsListCmd.Flags().Lookup("since"))
}

func TestBatchCommand_Flags(t *testing.T) {
	for _, flag := range []string{"input", "column", "status-column", "resume", "force", "no-skip", "limit", "concurrency", "output", "results", "integrate", "match", "match-threshold"} {
		require.NotNil(t, batchCmd.Flags().Lookup(flag), "missing flag --%s", flag)
	}
	assert.Equal(t, defaultNameColumn, batchCmd.Flags().Lookup("column").DefValue)
}

func TestResearchCommand_Args(t *testing.T) {
	researchCheck = false
	assert.Error(t, researchCmd.Args(researchCmd, nil))
	assert.NoError(t, researchCmd.Args(researchCmd, []string{"Acme"}))

	researchCheck = true
	defer func() { researchCheck = false }()
	assert.NoError(t, researchCmd.Args(researchCmd, nil))
	assert.Error(t, researchCmd.Args(researchCmd, []string{"Acme"}))
}
