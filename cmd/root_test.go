package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"sync", "locations", "repair", "aggregates", "vendors", "purge", "runs", "serve"} {
		assert.True(t, names[want], "command %s must be registered", want)
	}
}

func TestSyncFlags(t *testing.T) {
	for _, flag := range []string{"source", "sheet", "missing-policy", "only-missing", "report"} {
		require.NotNil(t, syncCmd.Flags().Lookup(flag), "flag --%s", flag)
	}
}

func TestVendorsSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range vendorsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["import"])
	assert.True(t, names["missing-location"])
	for _, flag := range []string{"source", "sheet", "missing-policy"} {
		require.NotNil(t, vendorsImportCmd.Flags().Lookup(flag), "flag --%s", flag)
	}
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	assert.NotNil(t, purgeCmd.Flags().Lookup("yes"))
	assert.True(t, purgeableTypes["vendor"])
	assert.True(t, purgeableTypes["county"])
	assert.False(t, purgeableTypes["reference"])
}
