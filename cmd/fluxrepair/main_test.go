package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperSolver is not a real test. It is the solver process the CLI
// tests start through os.Args[0]: models holding R1 grow, others do not,
// and every repair search proposes R1.
func TestHelperSolver(t *testing.T) {
	if os.Getenv("FLUXREPAIR_CLI_SOLVER") != "1" {
		return
	}
	var req struct {
		Operation string `json:"operation"`
		Model     struct {
			Reactions []struct {
				ID string `json:"id"`
			} `json:"reactions"`
		} `json:"model"`
	}
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintln(os.Stderr, "bad request:", err)
		os.Exit(2)
	}
	switch req.Operation {
	case "optimize":
		for _, r := range req.Model.Reactions {
			if r.ID == "R1" {
				fmt.Println(`{"objective_value": 0.8, "status": "optimal"}`)
				os.Exit(0)
			}
		}
		fmt.Println(`{"objective_value": 0, "status": "infeasible"}`)
	case "gapfill":
		fmt.Println(`{"candidates": [["R1"]]}`)
	}
	os.Exit(0)
}

const draftModel = `{
  "id": "OrgA_draft",
  "metabolites": [
    {"id": "cpd00027_e0", "compartment": "e0"},
    {"id": "cpd00027_c0", "compartment": "c0"}
  ],
  "reactions": [
    {"id": "EX_cpd00027_e0", "metabolites": {"cpd00027_e0": -1}, "lower_bound": -1000, "upper_bound": 1000},
    {"id": "rxn05573_c0", "metabolites": {"cpd00027_e0": -1, "cpd00027_c0": 1}, "lower_bound": 0, "upper_bound": 1000}
  ]
}`

const universalBank = `{
  "id": "universal",
  "metabolites": [
    {"id": "cpd00027_c0", "compartment": "c0"},
    {"id": "cpd00008_c0", "compartment": "c0"}
  ],
  "reactions": [
    {"id": "R1", "name": "hexokinase", "metabolites": {"cpd00027_c0": -1, "cpd00008_c0": 1}, "lower_bound": 0, "upper_bound": 1000, "subsystem": "Glycolysis"}
  ]
}`

type workspace struct {
	root   string
	config string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"models/OrgA_draft.json": draftModel,
		"media/glucose.json":     `{"EX_cpd00027_e0": 10}`,
		"media/acetate.json":     `{"EX_cpd00029_e0": 20}`,
		"bank/universal.json":    universalBank,
		"worklist.csv":           "organism,orgId,condition\nPseudomonas sp.,OrgA,glucose\nBacillus sp.,OrgB,acetate\n",
	}
	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	}
	cfg := fmt.Sprintf(`
batch:
  work_list: %q
solver:
  command: %q
  args: ["-test.run=^TestHelperSolver$", "--"]
  env: ["FLUXREPAIR_CLI_SOLVER=1"]
  timeout: 30s
blob:
  driver: fs
  root: %q
ledger:
  driver: sqlite
  sqlite_path: %q
log:
  level: warn
`, filepath.Join(root, "worklist.csv"), os.Args[0], root, filepath.Join(root, "state", "ledger.db"))
	cfgPath := filepath.Join(root, "fluxrepair.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return workspace{root: root, config: cfgPath}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCMD()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func (w workspace) read(t *testing.T, key string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(w.root, filepath.FromSlash(key)))
	require.NoError(t, err)
	return string(data)
}

func TestRunWritesArtifactsAndLedger(t *testing.T) {
	ws := newWorkspace(t)
	out, err := execute(t, "run", "--config", ws.config, "--run-id", "r1", "--write-models")
	require.NoError(t, err, out)
	assert.Contains(t, out, "run r1: 2 experiments")
	assert.Contains(t, out, "artifacts: results/r1")

	outcomes := ws.read(t, "results/r1/outcomes.csv")
	lines := strings.Split(strings.TrimSpace(outcomes), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "REPAIR_SUCCEEDED")
	assert.Contains(t, lines[1], "R1")
	assert.Contains(t, lines[2], "MISSING_INPUT")

	assert.Contains(t, ws.read(t, "results/r1/errors.csv"), "OrgB")
	assert.Contains(t, ws.read(t, "results/r1/summary.yaml"), "run_id: r1")
	assert.Contains(t, ws.read(t, "models/OrgA_glucose_repaired_r1.json"), `"R1"`)

	out, err = execute(t, "frequencies", "--config", ws.config, "--run-id", "r1")
	require.NoError(t, err, out)
	assert.Equal(t, "reaction_id,count,percent\nR1,1,50.00\n", out)

	// the most recent run is read when no run id is given
	out, err = execute(t, "frequencies", "--config", ws.config)
	require.NoError(t, err, out)
	assert.Contains(t, out, "R1,1,50.00")
}

func TestRunScreenSkipsRepair(t *testing.T) {
	ws := newWorkspace(t)
	out, err := execute(t, "run", "--config", ws.config, "--run-id", "s1", "--screen")
	require.NoError(t, err, out)
	lines := strings.Split(strings.TrimSpace(ws.read(t, "results/s1/outcomes.csv")), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "REPAIR_NOT_ATTEMPTED")
	assert.Equal(t, "reaction_id,count,percent", strings.TrimSpace(ws.read(t, "results/s1/frequencies.csv")))
}

func TestRunRequiresWorkList(t *testing.T) {
	ws := newWorkspace(t)
	t.Setenv("FLUXREPAIR_BATCH_WORK_LIST", "")
	require.NoError(t, os.WriteFile(ws.config, []byte("solver:\n  command: /bin/true\n"), 0o600))
	_, err := execute(t, "run", "--config", ws.config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "work list")
}

func TestFrequenciesNeedsPersistentLedger(t *testing.T) {
	ws := newWorkspace(t)
	t.Setenv("FLUXREPAIR_LEDGER_DRIVER", "memory")
	_, err := execute(t, "frequencies", "--config", ws.config)
	require.Error(t, err)
}

func TestAddedReactions(t *testing.T) {
	ws := newWorkspace(t)
	repaired := strings.Replace(draftModel, `"reactions": [`, `"reactions": [
    {"id": "R7", "metabolites": {"cpd00027_c0": -1}, "lower_bound": 0, "upper_bound": 1000},`, 1)
	require.NoError(t, os.WriteFile(filepath.Join(ws.root, "models", "OrgA_gapfilled.json"), []byte(repaired), 0o600))

	out, err := execute(t, "added-reactions", "--config", ws.config)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 repaired models, 0 organisms without one")
	assert.Contains(t, ws.read(t, "results/added_reactions.csv"), "OrgA,OrgA_draft,OrgA_draft,2,3,1,R7")
	assert.Contains(t, ws.read(t, "results/top_added_reactions.csv"), "R7,1,100.00")
}

func TestAddExchanges(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.root, "models", "OrgA_gapfilled.json"), []byte(draftModel), 0o600))
	missing := filepath.Join(ws.root, "missing.csv")
	require.NoError(t, os.WriteFile(missing, []byte("orgId,compound_id,compound_name\nOrgA,cpd10515,Fe2+\nOrgQ,cpd00244,Ni2+\n"), 0o600))

	out, err := execute(t, "add-exchanges", "--config", ws.config, "--missing", missing)
	require.NoError(t, err, out)
	assert.Contains(t, out, "1 models corrected, 1 exchanges added")
	assert.Contains(t, ws.read(t, "models_missing_exchanges/OrgA_gapfilled_corrected.json"), "EX_cpd10515_e0")
	assert.Contains(t, ws.read(t, "results/model_corrections_log.csv"), "OrgA,2,3,1,EX_cpd10515_e0")
}

func TestMainExitsOnError(t *testing.T) {
	oldArgs, oldExit := os.Args, exitFunc
	t.Cleanup(func() { os.Args, exitFunc = oldArgs, oldExit })
	code := -1
	exitFunc = func(c int) { code = c }
	os.Args = []string{"fluxrepair", "no-such-command"}
	main()
	assert.Equal(t, 1, code)
}
