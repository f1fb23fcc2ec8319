package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/stashsync/cmd/stashsync/handlers"
	"github.com/kimhsiao/stashsync/internal/models"
	"github.com/kimhsiao/stashsync/internal/services"
)

// execute runs the root command against a fresh flag state.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	jsonOutput = false
	itemIn = services.ItemInput{}
	itemKind = ""
	promptIn = services.PromptInput{}
	queueFamily, queueStatus = "all", ""
	syncFamily, syncForce = "all", false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STASHSYNC_APP_DATA_DIR", t.TempDir())
	t.Setenv("STASHSYNC_APP_MACHINE_ID", "test-machine")
	t.Setenv("STASHSYNC_LOG_LEVEL", "error")
	t.Setenv("STASHSYNC_REMOTE_TOKEN", "")
}

func TestItemAddAndQueue(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "item", "add", "Buy milk", "--kind", "task", "--tags", "home,errand")
	require.NoError(t, err)
	assert.Contains(t, out, "Added task")

	out, err = execute(t, "", "queue", "list", "--json")
	require.NoError(t, err)
	var entries []models.SyncQueueEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.OpCreate, entries[0].Operation)
	assert.Equal(t, models.FamilyItems, entries[0].Family)

	out, err = execute(t, "", "label", "list", "--kind", "tag")
	require.NoError(t, err)
	assert.Contains(t, out, "home")
	assert.Contains(t, out, "errand")
}

func TestPromptAddListRemove(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "prompt", "add", "Summarize", "Summarize this.", "--json")
	require.NoError(t, err)
	var p models.Prompt
	require.NoError(t, json.Unmarshal([]byte(out), &p))

	out, err = execute(t, "", "prompt", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Summarize")

	_, err = execute(t, "", "prompt", "rm", p.ID.String())
	require.NoError(t, err)

	out, err = execute(t, "", "queue", "list", "--family", "prompts", "--json")
	require.NoError(t, err)
	var entries []models.SyncQueueEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, models.OpDelete, entries[0].Operation)
}

func TestConfigAndStatus(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "secret_token\n", "config", "set-token")
	require.NoError(t, err)
	_, err = execute(t, "", "config", "set-database", "items", "db-items")
	require.NoError(t, err)
	_, err = execute(t, "", "config", "set-database", "notes", "db")
	assert.Error(t, err)
	_, err = execute(t, "", "config", "auto-sync", "--off")
	require.NoError(t, err)

	out, err := execute(t, "", "status", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret_token")

	var status struct {
		HasToken bool `json:"has_token"`
		AutoSync bool `json:"auto_sync_enabled"`
		Families []struct {
			Family     models.Family `json:"family"`
			DatabaseID string        `json:"database_id"`
		} `json:"families"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.HasToken)
	assert.False(t, status.AutoSync)
	require.Len(t, status.Families, 2)
	assert.Equal(t, "db-items", status.Families[0].DatabaseID)
	assert.Empty(t, status.Families[1].DatabaseID)
}

func TestSync_notConfigured(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "sync", "--family", "items", "--json")
	require.NoError(t, err)
	var outcomes []handlers.OutcomeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &outcomes))
	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].Result)
	assert.False(t, outcomes[0].Result.Success)
	assert.Equal(t, "SYNC_NOT_CONFIGURED", string(outcomes[0].Result.Errors[0].Code))

	out, err = execute(t, "", "sync")
	assert.EqualError(t, err, "sync finished with errors")
	assert.Contains(t, out, "[items] with errors")
	assert.Contains(t, out, "[prompts] with errors")
}

func TestSync_unknownFamily(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "sync", "--family", "notes")
	assert.Error(t, err)
}
