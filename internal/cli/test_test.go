package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: orders_by_salience
description: "Main fires in salience order after the audit group"
rulebase: ../rules/orders.cue

steps:
  - op: add
    rule: small-order
  - op: add
    rule: audit
  - op: add
    rule: big-order
  - op: fire
    expect:
      fired: 3

assertions:
  - type: fired_order
    rules: [audit, big-order, small-order]
`

const failingScenario = `name: wrong_order
description: "Asserts an order the resolver never produces"
rulebase: ../rules/orders.cue

steps:
  - op: add
    rule: small-order
  - op: add
    rule: big-order
  - op: fire

assertions:
  - type: fired_order
    rules: [small-order, big-order]
`

// scenarioFixture lays out rules/orders.cue and scenarios/<name> under a
// temp dir and returns the scenarios directory.
func scenarioFixture(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, filepath.Join("rules", "orders.cue"), ordersRulebase)
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range scenarios {
		writeFile(t, dir, name, content)
	}
	return dir
}

func runTestCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func decodeTestResult(t *testing.T, out string) (CLIResponse, TestResult) {
	t.Helper()
	var resp struct {
		CLIResponse
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp.CLIResponse, resp.Data
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := runTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, err := runTestCmd(t, "json", t.TempDir())
	require.NoError(t, err)

	resp, result := decodeTestResult(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, result.Total)
	assert.NotNil(t, result.Scenarios)
}

func TestTestCommandPassingScenario(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{"orders.yaml": passingScenario})

	out, err := runTestCmd(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ orders_by_salience")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{
		"orders.yaml": passingScenario,
		"wrong.yaml":  failingScenario,
	})

	out, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_order")
	assert.Contains(t, out, "fired_order")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandSingleFileArg(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{
		"orders.yaml": passingScenario,
		"wrong.yaml":  failingScenario,
	})

	out, err := runTestCmd(t, "json", filepath.Join(dir, "orders.yaml"))
	require.NoError(t, err)

	_, result := decodeTestResult(t, out)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "orders_by_salience", result.Scenarios[0].Name)
	assert.Equal(t, "absent", result.Scenarios[0].Golden)
}

func TestTestCommandFilter(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{
		"orders.yaml": passingScenario,
		"wrong.yaml":  failingScenario,
	})

	out, err := runTestCmd(t, "text", "--filter", "ord*", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 total")
	assert.NotContains(t, out, "wrong_order")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{"broken.yaml": "name: broken\nunknown: true\n"})

	out, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestCommandUpdateThenMatch(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{"orders.yaml": passingScenario})

	out, err := runTestCmd(t, "text", "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ orders_by_salience (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "orders.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"orders_by_salience"`)

	out, err = runTestCmd(t, "json", dir)
	require.NoError(t, err)
	_, result := decodeTestResult(t, out)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "match", result.Scenarios[0].Golden)
	assert.True(t, result.Scenarios[0].Pass)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{"orders.yaml": passingScenario})
	writeFile(t, dir, filepath.Join("golden", "orders.golden"), `{"scenario_name":"orders_by_salience","trace":[]}`)

	out, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandGoldenDir(t *testing.T) {
	dir := scenarioFixture(t, map[string]string{"orders.yaml": passingScenario})
	goldenDir := filepath.Join(t.TempDir(), "traces")

	_, err := runTestCmd(t, "text", "--update", "--golden-dir", goldenDir, dir)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(goldenDir, "orders.golden"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "golden"))
	assert.True(t, os.IsNotExist(err), "default golden dir should not be created")
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	testdata := filepath.Join("..", "harness", "testdata")

	out, err := runTestCmd(t, "json",
		"--golden-dir", filepath.Join(testdata, "golden"),
		filepath.Join(testdata, "scenarios"))
	require.NoError(t, err, out)

	_, result := decodeTestResult(t, out)
	assert.Positive(t, result.Total)
	assert.Equal(t, result.Total, result.Passed)
	for _, sr := range result.Scenarios {
		assert.Equal(t, "match", sr.Golden, sr.Name)
	}
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "focus-auto.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "focus-stack.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "clear-test.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "focus-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	for _, f := range files {
		assert.Contains(t, filepath.Base(f), "focus-")
	}
}

func TestFindScenarioFilesInvalidFilter(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.yaml"), []byte(""), 0644))

	_, err := findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		dir      string
		input    string
		expected string
	}{
		{"", "/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"", "/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"", "scenarios/test.yaml", "scenarios/golden/test.golden"},
		{"traces", "scenarios/test.yaml", "traces/test.golden"},
	}

	for _, tc := range testCases {
		result := goldenFilePath(tc.dir, tc.input)
		assert.Equal(t, filepath.FromSlash(tc.expected), result)
	}
}
