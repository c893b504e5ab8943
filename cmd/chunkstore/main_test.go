package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/chunkstore"
	"github.com/poiesic/chunkstore/ai/mock"
	"github.com/poiesic/chunkstore/config"
	"github.com/poiesic/chunkstore/core"
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
	t.Fatalf("command %q not found", name)
	return nil
}

func findIntFlag(cmd *cli.Command, name string) *cli.IntFlag {
	for _, flag := range cmd.Flags {
		if f, ok := flag.(*cli.IntFlag); ok && f.Name == name {
			return f
		}
	}
	return nil
}

func TestAppFlags(t *testing.T) {
	app := newApp()

	t.Run("log-level defaults to info", func(t *testing.T) {
		var levelFlag *cli.StringFlag
		for _, flag := range app.Flags {
			if f, ok := flag.(*cli.StringFlag); ok && f.Name == "log-level" {
				levelFlag = f
				break
			}
		}
		require.NotNil(t, levelFlag)
		assert.Equal(t, "info", levelFlag.Value)
		assert.Equal(t, []string{"l"}, levelFlag.Aliases)
	})

	t.Run("all commands are registered", func(t *testing.T) {
		for _, name := range []string{"ingest", "delete", "drop", "show", "collections"} {
			cmd := findCommand(t, app, name)
			assert.NotNil(t, cmd.Action, name)
		}
	})
}

func TestIngestCommandFlags(t *testing.T) {
	cmd := findCommand(t, newApp(), "ingest")

	t.Run("max-retries has default value of 3", func(t *testing.T) {
		f := findIntFlag(cmd, "max-retries")
		require.NotNil(t, f)
		assert.Equal(t, 3, f.Value)
	})

	t.Run("chunk-overlap defaults to configured value", func(t *testing.T) {
		f := findIntFlag(cmd, "chunk-overlap")
		require.NotNil(t, f)
		assert.Equal(t, -1, f.Value)
	})

	t.Run("chunk-size defaults to configured value", func(t *testing.T) {
		f := findIntFlag(cmd, "chunk-size")
		require.NotNil(t, f)
		assert.Zero(t, f.Value)
	})
}

func TestSetupLogger(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "error"} {
		app := newApp()
		app.Commands = nil
		app.Action = func(*cli.Context) error { return nil }
		assert.NoError(t, app.Run([]string{"chunkstore", "--log-level", level}), level)
	}

	app := newApp()
	app.Commands = nil
	app.Action = func(*cli.Context) error { return nil }
	err := app.Run([]string{"chunkstore", "--log-level", "verbose"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestCommandsRequireArguments(t *testing.T) {
	for _, name := range []string{"delete", "show", "drop"} {
		t.Run(name, func(t *testing.T) {
			err := newApp().Run([]string{"chunkstore", name})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "argument is required")
		})
	}
}

func TestParseMetadata(t *testing.T) {
	meta, err := parseMetadata([]string{"title=Guide", " author =Ann", "tags=a=b"})
	require.NoError(t, err)
	assert.Equal(t, core.Metadata{"title": "Guide", "author": "Ann", "tags": "a=b"}, meta)

	_, err = parseMetadata([]string{"novalue"})
	assert.Error(t, err)

	_, err = parseMetadata([]string{"=x"})
	assert.Error(t, err)
}

func TestReadSources(t *testing.T) {
	meta := core.Metadata{"title": "Guide"}

	t.Run("stdin requires source id", func(t *testing.T) {
		_, err := readSources(nil, "", strings.NewReader("text"), meta)
		assert.ErrorIs(t, err, core.ErrMissingSourceID)
	})

	t.Run("stdin", func(t *testing.T) {
		sources, err := readSources(nil, "doc1", strings.NewReader("hello"), meta)
		require.NoError(t, err)
		require.Len(t, sources, 1)
		assert.Equal(t, "doc1", sources[0].ID)
		assert.Equal(t, "hello", sources[0].Text)
		assert.Equal(t, "Guide", sources[0].Metadata["title"])
	})

	t.Run("files use base name", func(t *testing.T) {
		dir := t.TempDir()
		a := filepath.Join(dir, "a.txt")
		b := filepath.Join(dir, "b.txt")
		require.NoError(t, os.WriteFile(a, []byte("alpha"), 0o644))
		require.NoError(t, os.WriteFile(b, []byte("beta"), 0o644))

		sources, err := readSources([]string{a, b}, "", nil, meta)
		require.NoError(t, err)
		require.Len(t, sources, 2)
		assert.Equal(t, "a.txt", sources[0].ID)
		assert.Equal(t, "beta", sources[1].Text)
		assert.Equal(t, b, sources[1].Metadata["path"])
		_, shared := meta["path"]
		assert.False(t, shared)
	})

	t.Run("source id with many files", func(t *testing.T) {
		_, err := readSources([]string{"a", "b"}, "doc", nil, meta)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readSources([]string{filepath.Join(t.TempDir(), "nope")}, "", nil, meta)
		assert.Error(t, err)
	})
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\n\n b", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}

// useBackend points configuration at a backend through the environment.
func useBackend(t *testing.T, kind, path string) {
	t.Helper()
	t.Setenv(config.EnvBackend, kind)
	t.Setenv(config.EnvPath, path)
	t.Setenv(config.EnvEmbeddingsModel, "mock-embedding")
	t.Setenv(config.EnvDefaultCollection, "")
	t.Setenv(config.EnvChunkSize, "1000")
	t.Setenv(config.EnvChunkOverlap, "200")
}

// runApp runs the CLI with a mock embedding provider and returns its stdout.
func runApp(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newApp(chunkstore.WithProvider(mock.NewMockProvider()))
	var stdout, stderr bytes.Buffer
	app.Reader = strings.NewReader(stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"chunkstore", "--log-level", "error"}, args...))
	return stdout.String(), err
}

func TestIngestCommand_Stdin(t *testing.T) {
	useBackend(t, config.BackendMemory, "")

	out, err := runApp(t, strings.Repeat("a", 2500), "ingest", "--source-id", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "doc1\t4 chunks\t0 replaced\n", out)
}

func TestIngestCommand_StdinRequiresSourceID(t *testing.T) {
	useBackend(t, config.BackendMemory, "")

	_, err := runApp(t, "text", "ingest")
	assert.ErrorIs(t, err, core.ErrMissingSourceID)
}

func TestCommands_Lifecycle(t *testing.T) {
	useBackend(t, config.BackendBadger, filepath.Join(t.TempDir(), "db"))

	out, err := runApp(t, strings.Repeat("a", 2500), "ingest", "--source-id", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "doc1\t4 chunks\t0 replaced\n", out)

	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("Short notes."), 0o644))
	out, err = runApp(t, "", "ingest", "--meta", "title=Guide", notes)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt\t1 chunks\t0 replaced\n", out)

	out, err = runApp(t, "", "show", "doc1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "#0\t1000 chars\t384 dims")
	assert.Contains(t, lines[3], "#3\t100 chars")

	out, err = runApp(t, "", "collections")
	require.NoError(t, err)
	assert.Contains(t, out, "MyRAGApp\t5 records")

	out, err = runApp(t, strings.Repeat("b", 500), "ingest", "--replace", "--source-id", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "doc1\t1 chunks\t4 replaced\n", out)

	out, err = runApp(t, "", "delete", "doc1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted 1 records of \"doc1\" from MyRAGApp\n", out)

	out, err = runApp(t, "", "delete", "doc1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 records")

	out, err = runApp(t, "", "show", "doc1")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = runApp(t, "", "drop", "MyRAGApp")
	require.NoError(t, err)
	assert.Equal(t, "Dropped collection MyRAGApp\n", out)

	out, err = runApp(t, "", "collections")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = runApp(t, "", "drop", "MyRAGApp")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = runApp(t, "", "drop", "--ignore-missing", "MyRAGApp")
	assert.NoError(t, err)
}

func TestCommands_CollectionFlag(t *testing.T) {
	useBackend(t, config.BackendBadger, filepath.Join(t.TempDir(), "db"))

	_, err := runApp(t, "Some text.", "--collection", "manuals", "ingest", "--source-id", "doc1")
	require.NoError(t, err)

	out, err := runApp(t, "", "show", "doc1")
	require.NoError(t, err)
	assert.Empty(t, out, "default collection is untouched")

	out, err = runApp(t, "", "--collection", "manuals", "show", "doc1")
	require.NoError(t, err)
	assert.Contains(t, out, "#0")
}
