package cli

import (
	"bufio"
	"bytes"
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gopkg.in/yaml.v3"

	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/logger"
	"alexhalogen/rsraid/internal/stage"
)

func TestMain(m *testing.M) {
	logger.Silence()
	goleak.VerifyTestMain(m)
}

// execute runs a fresh command tree and returns what it printed on stdout.
func execute(t *testing.T, root *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root.SetArgs(append(args, "-q", "--log-level", "error"))
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func sourceFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(7)).Read(data)
	path := filepath.Join(t.TempDir(), "archive.tar")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path, data
}

func TestProtectTestRecover(t *testing.T) {
	src, data := sourceFile(t, 300_001)
	volDir := t.TempDir()

	out, err := execute(t, NewEncoderCommand(), "", "protect", src, "-n", "4", "-m", "2", "-t", "cauchy", "-o", volDir)
	require.NoError(t, err)
	vols := lines(out)
	require.Len(t, vols, 6)
	assert.Equal(t, filepath.Join(volDir, "C000000040002.archive.tar"), vols[0])

	out, err = execute(t, NewDecoderCommand(), "", "test", vols[0], "--yaml")
	require.NoError(t, err)
	var view map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &view))
	assert.Equal(t, true, view["recoverable"])
	assert.Equal(t, true, view["allEccOK"])
	assert.Len(t, view["volumes"], 6)
	assert.Equal(t, "cauchy", view["coding"].(map[string]any)["type"])

	require.NoError(t, os.Remove(vols[0]))
	require.NoError(t, os.Remove(vols[4]))

	out, err = execute(t, NewDecoderCommand(), "", "test", vols[1])
	require.NoError(t, err)
	assert.Contains(t, out, "available: [1, 2, 3, 5]")

	restored := filepath.Join(t.TempDir(), "restored.tar")
	out, err = execute(t, NewDecoderCommand(), "", "recover", vols[1], "-o", restored)
	require.NoError(t, err)
	l := lines(out)
	assert.Equal(t, restored, l[len(l)-1])
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "restored file differs")

	out, err = execute(t, NewDecoderCommand(), "", "repair", vols[1])
	require.NoError(t, err)
	assert.Contains(t, out, "volume set repaired")
	assert.FileExists(t, vols[0])
	assert.FileExists(t, vols[4])

	out, err = execute(t, NewDecoderCommand(), "", "repair", vols[0])
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to repair")
}

func TestEncryptedRecover(t *testing.T) {
	src, data := sourceFile(t, 70_000)
	volDir := t.TempDir()

	out, err := execute(t, NewEncoderCommand(), "hunter2\n", "protect", src, "-n", "3", "-m", "2", "-t", "dispersal", "-o", volDir, "-P")
	require.NoError(t, err)
	vols := lines(out)
	require.Len(t, vols, 5)
	require.NoError(t, os.Remove(vols[2]))

	restored := filepath.Join(t.TempDir(), "out.tar")
	_, err = execute(t, NewDecoderCommand(), "", "recover", vols[0], "-o", restored, "-p", "wrong")
	require.Error(t, err)
	assert.True(t, rserr.Is(err, rserr.ErrDecrypt), "got %v", err)

	_, err = execute(t, NewDecoderCommand(), "hunter2\n", "recover", vols[0], "-o", restored, "-P")
	require.NoError(t, err)
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestRecoverAvailable(t *testing.T) {
	src, data := sourceFile(t, 10_000)
	volDir := t.TempDir()
	out, err := execute(t, NewEncoderCommand(), "", "protect", src, "-n", "2", "-m", "2", "-o", volDir)
	require.NoError(t, err)
	vols := lines(out)

	restored := filepath.Join(t.TempDir(), "out.tar")
	_, err = execute(t, NewDecoderCommand(), "", "recover", vols[0], "-o", restored, "--available", "[2, 3]")
	require.NoError(t, err)
	got, err := os.ReadFile(restored)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))

	_, err = execute(t, NewDecoderCommand(), "", "recover", vols[0], "-o", restored, "--available", "[2, x]")
	assert.True(t, rserr.IsConfig(err), "got %v", err)
}

func TestUnrecoverable(t *testing.T) {
	src, _ := sourceFile(t, 5_000)
	volDir := t.TempDir()
	out, err := execute(t, NewEncoderCommand(), "", "protect", src, "-n", "2", "-m", "1", "-o", volDir)
	require.NoError(t, err)
	vols := lines(out)
	require.NoError(t, os.Remove(vols[0]))
	require.NoError(t, os.Remove(vols[1]))

	_, err = execute(t, NewDecoderCommand(), "", "test", vols[2])
	assert.ErrorIs(t, err, rserr.ErrTooFewVolumes)

	_, err = execute(t, NewDecoderCommand(), "", "recover", vols[2], "-o", filepath.Join(volDir, "x"))
	assert.ErrorIs(t, err, rserr.ErrTooFewVolumes)
}

func TestBadArguments(t *testing.T) {
	src, _ := sourceFile(t, 100)
	tests := []struct {
		name string
		root func() *cobra.Command
		args []string
	}{
		{"protect without file", NewEncoderCommand, []string{"protect"}},
		{"protect missing file", NewEncoderCommand, []string{"protect", filepath.Join(t.TempDir(), "none")}},
		{"protect bad type", NewEncoderCommand, []string{"protect", src, "-t", "fountain"}},
		{"protect zero ecc", NewEncoderCommand, []string{"protect", src, "-m", "-1"}},
		{"recover not a volume", NewDecoderCommand, []string{"recover", src}},
		{"test two volumes", NewDecoderCommand, []string{"test", "a", "b"}},
		{"unknown command", NewDecoderCommand, []string{"protect", src}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.root(), "", tc.args...)
			assert.Error(t, err)
		})
	}
}

func TestPasswordFlags(t *testing.T) {
	pw, err := passwordFlags{password: "abc"}.resolve(strings.NewReader(""), true)
	require.NoError(t, err)
	assert.Equal(t, "abc", pw)

	pw, err = passwordFlags{stdin: true}.resolve(strings.NewReader("from stdin\r\n"), false)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", pw)

	_, err = passwordFlags{stdin: true}.resolve(strings.NewReader("\n"), false)
	assert.ErrorIs(t, err, ErrPasswordEmpty)

	pw, err = passwordFlags{}.resolve(strings.NewReader("ignored"), false)
	require.NoError(t, err)
	assert.Empty(t, pw)
}

func TestRenderBar(t *testing.T) {
	assert.Equal(t, "[------------------------------]      0% code", renderBar(stage.PhaseCode, 0))
	assert.Equal(t, "[###############---------------]     50% code", renderBar(stage.PhaseCode, 50))
	assert.Equal(t, "[##############################]    100% code", renderBar(stage.PhaseCode, 140))
}

func TestReporterQuiet(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf, true)
	board := stage.NewBoard()
	r.Follow(board)
	board.Progress(stage.PhaseCode, 10)
	r.Stop()
	r.PrintSuccess("done")
	assert.Empty(t, buf.String())

	r.PrintError("boom %d", 1)
	assert.Equal(t, "Error: boom 1\n", buf.String())
}

func TestLogFileFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decoder.log")
	t.Setenv("RSRAID_LOG_FILE", path)
	var console bytes.Buffer
	logger.Console().SetOutput(&console)
	defer logger.Silence()

	g := globalOptions{logLevel: "info", quiet: true}
	cfg, err := g.load()
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Log.File)
	defer logger.Configure("error")

	logger.Console().WithField("volume", 3).Info("volume damaged")
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "volume damaged")
	assert.Contains(t, string(b), "volume=3")
	assert.Empty(t, console.String(), "--quiet leaves the console silent")
}

func TestPipedConfirmation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{"matching lines", "secret\nsecret\n", "secret", nil},
		{"crlf and no final newline", "secret\r\nsecret", "secret", nil},
		{"mismatch", "secret\nsecrets\n", "", ErrPasswordMismatch},
		{"empty", "\nsecret\n", "", ErrPasswordEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var prompts bytes.Buffer
			p := &prompter{in: bufio.NewReader(strings.NewReader(tt.input)), out: &prompts}
			got, err := p.read(true)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Password: Confirm password: ", prompts.String())
		})
	}
}
