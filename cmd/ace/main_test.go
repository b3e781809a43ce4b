package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t      *testing.T
	dir    string
	config string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{t: t, dir: dir, config: filepath.Join(dir, "settings.yaml")}
}

func (c *cli) path(name string) string { return filepath.Join(c.dir, name) }

func (c *cli) exec(args ...string) (string, error) {
	c.t.Helper()
	ctx, cancel := testutil.TestContext(c.t)
	defer cancel()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", c.config, "--log-level", "error"}, args...))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.exec(args...)
	require.NoError(c.t, err, out)
	return out
}

func (c *cli) importNumbers(text string) string {
	in := testutil.WriteFile(c.t, c.dir, "in.txt", []byte(text))
	out := c.path("numbers.num")
	c.must("run", "import-integer-array", "--in", in, "--out", out, "--increment", "2")
	return out
}

func (c *cli) export(in string) string {
	out := c.path("export.txt")
	c.must("run", "export-integer-array", "--in", in, "--out", out)
	content, err := os.ReadFile(out)
	require.NoError(c.t, err)
	return string(content)
}

func TestRunPipeline(t *testing.T) {
	c := newCLI(t)
	numbers := c.importNumbers("1 2 3 4 5")

	tripled := c.path("tripled.num")
	c.must("run", "math-transform", "--in", numbers, "--out", tripled, "--type", "multiplication", "--amount", "3")
	assert.Equal(t, "3\n6\n9\n12\n15\n", c.export(tripled))

	sys := c.must("dump", tripled, "--system")
	assert.Contains(t, sys, `"math-transform"`)
	assert.Contains(t, sys, `"fingerprint"`)

	yml := c.must("dump", tripled, "--system", "--format", "yaml")
	assert.Contains(t, yml, "analytic: math-transform")
}

func TestRunLocalWorkers(t *testing.T) {
	c := newCLI(t)
	numbers := c.importNumbers("10 20 30")
	out := c.path("out.num")
	c.must("run", "math-transform", "--local-workers", "2", "--in", numbers, "--out", out, "--amount=-10")
	assert.Equal(t, "0\n10\n20\n", c.export(out))
}

func TestChunkrunAndMerge(t *testing.T) {
	c := newCLI(t)
	numbers := c.importNumbers("7 8 9 10 11")
	out := c.path("out.num")
	args := []string{"--in", numbers, "--out", out, "--type", "subtraction", "--amount", "7"}

	c.must(append([]string{"chunkrun", "math-transform", "--index", "1", "--size", "2"}, args...)...)
	_, err := c.exec(append([]string{"merge", "math-transform", "--size", "2"}, args...)...)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingChunk), "got %v", err)

	c.must(append([]string{"chunkrun", "math-transform", "--index", "0", "--size", "2"}, args...)...)
	c.must(append([]string{"merge", "math-transform", "--size", "2"}, args...)...)
	assert.Equal(t, "0\n1\n2\n3\n4\n", c.export(out))
}

func TestInject(t *testing.T) {
	c := newCLI(t)
	numbers := c.importNumbers("1")
	doc := testutil.WriteFile(t, c.dir, "note.json", []byte(`{"note": "calibrated", "scale": 2}`))

	c.must("inject", numbers, doc)
	user := c.must("dump", numbers)
	assert.Contains(t, user, `"note": "calibrated"`)
	assert.Contains(t, user, `"scale": 2`)

	_, err := c.exec("inject", numbers, doc)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict), "got %v", err)
}

func TestInjectSortsKeys(t *testing.T) {
	c := newCLI(t)
	numbers := c.importNumbers("1")
	doc := testutil.WriteFile(t, c.dir, "note.json", []byte(`{"zeta": 1, "alpha": {"y": 1, "b": 2}}`))

	c.must("inject", numbers, doc)
	user := c.must("dump", numbers)
	assert.Less(t, strings.Index(user, `"alpha"`), strings.Index(user, `"zeta"`), user)
	assert.Less(t, strings.Index(user, `"b"`), strings.Index(user, `"y"`), user)

	help := c.must("inject", "--help")
	assert.Contains(t, help, "sorted order")
}

func TestDumpMissingObject(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("dump", c.path("absent.num"))
	require.Error(t, err)
}

func TestSettings(t *testing.T) {
	c := newCLI(t)
	c.must("settings", "set", "execution.threads", "2")
	assert.True(t, testutil.FileExists(c.config))
	assert.Contains(t, c.must("settings"), "execution.threads = 2")

	_, err := c.exec("settings", "set", "execution.threads", "0")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
	_, err = c.exec("settings", "set", "no.such.key", "1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound), "got %v", err)
}

func TestListAndVersion(t *testing.T) {
	c := newCLI(t)
	list := c.must("list")
	assert.Contains(t, list, "import-integer-array")
	assert.Contains(t, list, "math-transform")
	assert.Contains(t, list, "integer_array")
	assert.Contains(t, c.must("version"), "ace dev")
}

func TestMissingRequiredFlag(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec("run", "math-transform", "--out", c.path("out.num"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in")
}

func TestInvalidArgument(t *testing.T) {
	c := newCLI(t)
	numbers := c.importNumbers("1 2")
	_, err := c.exec("run", "math-transform", "--in", numbers, "--out", c.path("out.num"), "--type", "modulo")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidArgument), "got %v", err)
}
