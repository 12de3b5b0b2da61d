// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("Command %q not found", name)
	return nil
}

func stringFlag(t *testing.T, cmd *cli.Command, name string) *cli.StringFlag {
	t.Helper()
	for _, flag := range cmd.Flags {
		if f, ok := flag.(*cli.StringFlag); ok && f.Name == name {
			return f
		}
	}
	t.Fatalf("String flag %q not found on command %q", name, cmd.Name)
	return nil
}

func intFlag(t *testing.T, cmd *cli.Command, name string) *cli.IntFlag {
	t.Helper()
	for _, flag := range cmd.Flags {
		if f, ok := flag.(*cli.IntFlag); ok && f.Name == name {
			return f
		}
	}
	t.Fatalf("Int flag %q not found on command %q", name, cmd.Name)
	return nil
}

func TestAppCommandWiring(t *testing.T) {
	app := newApp()

	t.Run("all commands are registered", func(t *testing.T) {
		names := make([]string, len(app.Commands))
		for i, cmd := range app.Commands {
			names[i] = cmd.Name
		}
		assert.ElementsMatch(t, []string{
			"ingest", "job", "jobs", "query", "list",
			"delete", "compact", "purge-jobs", "reembed",
		}, names)
	})

	t.Run("every command requires the db flag", func(t *testing.T) {
		for _, cmd := range app.Commands {
			dbFlag := stringFlag(t, cmd, "db")
			assert.True(t, dbFlag.Required, "command %q must require --db", cmd.Name)
			assert.Contains(t, dbFlag.Aliases, "d")
		}
	})

	t.Run("log-level flag has alias and info default", func(t *testing.T) {
		var levelFlag *cli.StringFlag
		for _, flag := range app.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "log-level" {
				levelFlag = f
				break
			}
		}
		require.NotNil(t, levelFlag)
		assert.Contains(t, levelFlag.Aliases, "l")
		assert.Equal(t, "info", levelFlag.Value)
	})
}

func TestIngestCommandFlags(t *testing.T) {
	app := newApp()
	cmd := findCommand(t, app, "ingest")

	t.Run("source is required", func(t *testing.T) {
		sourceFlag := stringFlag(t, cmd, "source")
		assert.True(t, sourceFlag.Required)
		assert.Contains(t, sourceFlag.Aliases, "s")
	})

	t.Run("embedding defaults point at local ollama", func(t *testing.T) {
		assert.Equal(t, "http://localhost:11434/v1", stringFlag(t, cmd, "embedding-host").Value)
		assert.Equal(t, "embeddinggemma", stringFlag(t, cmd, "embedding-model").Value)
		assert.Equal(t, "http://localhost:11434/v1", stringFlag(t, cmd, "generation-host").Value)
		assert.Equal(t, "qwen2.5:3b", stringFlag(t, cmd, "generation-model").Value)
	})

	t.Run("missing locator fails before opening the database", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "ingest", "--db", t.TempDir(), "--source", "plain_text"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "locator argument is required")
	})

	t.Run("unknown source type is rejected", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "ingest", "--db", t.TempDir(), "--source", "carrier_pigeon", "doc.txt"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "carrier_pigeon")
	})
}

func TestQueryCommandValidation(t *testing.T) {
	t.Run("missing question fails", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "query", "--db", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "question argument is required")
	})

	t.Run("session has a default", func(t *testing.T) {
		cmd := findCommand(t, newApp(), "query")
		assert.Equal(t, "default", stringFlag(t, cmd, "session").Value)
	})
}

func TestReembedCommandFlags(t *testing.T) {
	app := newApp()
	cmd := findCommand(t, app, "reembed")

	t.Run("embedding-model is required", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "reembed", "--db", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedding-model")
	})

	t.Run("embedding-host has default value", func(t *testing.T) {
		hostFlag := stringFlag(t, cmd, "embedding-host")
		assert.Equal(t, "http://localhost:11434/v1", hostFlag.Value)
	})

	t.Run("embedding-model has no default value", func(t *testing.T) {
		modelFlag := stringFlag(t, cmd, "embedding-model")
		assert.Empty(t, modelFlag.Value)
		assert.True(t, modelFlag.Required)
	})

	t.Run("batch-size has default value of 100", func(t *testing.T) {
		assert.Equal(t, 100, intFlag(t, cmd, "batch-size").Value)
	})

	t.Run("report-interval has default value of 100", func(t *testing.T) {
		assert.Equal(t, 100, intFlag(t, cmd, "report-interval").Value)
	})

	t.Run("max-retries has default value of 3", func(t *testing.T) {
		assert.Equal(t, 3, intFlag(t, cmd, "max-retries").Value)
	})

	t.Run("missing db flag fails", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "reembed", "--embedding-model", "test-model"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db")
	})
}

func TestCommandsAgainstEmptyDatabase(t *testing.T) {
	t.Run("jobs reports none", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "jobs", "--db", t.TempDir()})
		assert.NoError(t, err)
	})

	t.Run("list reports none", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "list", "--db", t.TempDir()})
		assert.NoError(t, err)
	})

	t.Run("purge-jobs purges nothing", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "purge-jobs", "--db", t.TempDir()})
		assert.NoError(t, err)
	})

	t.Run("compact succeeds", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "compact", "--db", t.TempDir()})
		assert.NoError(t, err)
	})

	t.Run("job lookup fails for unknown ID", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "job", "--db", t.TempDir(), "no-such-job"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read job")
	})

	t.Run("delete fails for unknown document", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "delete", "--db", t.TempDir(), "no-such-doc"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to delete document")
	})

	t.Run("job requires an argument", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "job", "--db", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job-id argument is required")
	})

	t.Run("delete requires an argument", func(t *testing.T) {
		err := newApp().Run([]string{"ragit", "delete", "--db", t.TempDir()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "document-id argument is required")
	})
}

func runSetupLogger(level string) error {
	app := &cli.App{
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: level},
		},
		Action: setupLogger,
	}
	return app.Run([]string{"ragit"})
}

func TestSetupLogger(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "Info"} {
		assert.NoError(t, runSetupLogger(level), "level %q", level)
	}

	err := runSetupLogger("verbose")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
