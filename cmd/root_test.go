package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"migrate", "boundaries", "stores", "assign", "locate", "export", "status"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "territory-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestBoundariesCommand_Load(t *testing.T) {
	cmd, _, err := rootCmd.Find([]string{"boundaries", "load"})
	require.NoError(t, err)
	assert.Equal(t, boundariesLoadCmd, cmd)
	assert.NotNil(t, cmd.Flags().Lookup("path"))
	assert.NotNil(t, cmd.Flags().Lookup("temp-dir"))
}

func TestStoresImportCommand_Flags(t *testing.T) {
	flag := storesImportCmd.Flags().Lookup("batch-size")
	require.NotNil(t, flag, "stores import should have --batch-size flag")
	assert.Equal(t, "100", flag.DefValue)
	assert.NotNil(t, storesImportCmd.Flags().Lookup("path"))
}

func TestExportCommand_Flags(t *testing.T) {
	flag := exportCmd.Flags().Lookup("tolerance")
	require.NotNil(t, flag)
	assert.Equal(t, "0.01", flag.DefValue)
	assert.NotNil(t, exportCmd.Flags().Lookup("out"))
}

func TestStatusCommand_Flags(t *testing.T) {
	flag := statusCmd.Flags().Lookup("history")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	assert.Equal(t, "10", statusCmd.Flags().Lookup("top").DefValue)
}

func TestLocateCommand_RequiresCoordinates(t *testing.T) {
	for _, name := range []string{"lat", "lon"} {
		flag := locateCmd.Flags().Lookup(name)
		require.NotNil(t, flag)
		assert.Equal(t, []string{"true"}, flag.Annotations["cobra_annotation_bash_completion_one_required_flag"])
	}
}
