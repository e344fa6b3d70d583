package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-dispatch/internal/config"
	"github.com/shineum/mail-dispatch/internal/relay"
)

func TestWarmupCommand(t *testing.T) {
	cmd := newWarmupCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--start", "20"})

	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 15)
	assert.True(t, strings.HasPrefix(lines[0], "DAY"))
	assert.Contains(t, lines[1], "20")
	assert.Contains(t, lines[2], "30")
}

func TestLoadTemplates_HTMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>Hi {{name}}</p>"), 0o600))

	tpl, err := loadTemplates(config.CampaignConfig{Subject: "S", HTMLFile: path})
	require.NoError(t, err)
	assert.Equal(t, "<p>Hi {{name}}</p>", tpl.HTML)
	assert.Equal(t, "S", tpl.Subject)

	tpl, err = loadTemplates(config.CampaignConfig{HTML: "inline", HTMLFile: path})
	require.NoError(t, err)
	assert.Equal(t, "inline", tpl.HTML, "inline html wins over the file")

	_, err = loadTemplates(config.CampaignConfig{HTMLFile: filepath.Join(t.TempDir(), "missing.html")})
	assert.Error(t, err)
}

func TestRunSend_DryRun(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "list.csv")
	require.NoError(t, os.WriteFile(list, []byte("name,email\nAna,a@x.com\nBo,\n"), 0o600))

	cfg := &config.Config{
		Campaign: config.CampaignConfig{
			Recipients: list,
			Sender:     "ops@example.com",
			Subject:    "Hi {{name}}",
			HTML:       "<p>Hi {{name}}</p>",
			Attachment: "# {{name}}",
			Renderer:   "markdown",
		},
	}
	cfg.Relays = []relay.Config{stdoutRelay(cfg.Campaign.Sender)}

	result, err := runSend(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Skipped)
}
