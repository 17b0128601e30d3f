// Package worklist reads the list of (organism, condition) experiments a
// batch processes. CSV and YAML files are accepted.
package worklist

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"fluxrepair/pkg/domain"
)

// Entry is one work-list row as written in the file.
type Entry struct {
	Organism     string `yaml:"organism"`
	OrgID        string `yaml:"orgId"`
	Condition    string `yaml:"condition"`
	CarbonSource string `yaml:"carbon_source"`
	Expectation  string `yaml:"expectation"`
	Model        string `yaml:"model"`
	Medium       string `yaml:"medium"`
}

type document struct {
	Experiments []Entry `yaml:"experiments"`
}

// header aliases, matched case-insensitively
var columns = map[string]string{
	"organism":      "organism",
	"orgid":         "orgId",
	"org_id":        "orgId",
	"condition":     "condition",
	"carbon_source": "condition",
	"expectation":   "expectation",
	"model":         "model",
	"model_key":     "model",
	"medium":        "medium",
	"medium_key":    "medium",
}

// LoadFile reads a work list, choosing the format from the file extension.
func LoadFile(path string) ([]domain.Experiment, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read work list: %w", err)
	}
	return Parse(data, path)
}

// Parse decodes a work list; name selects the format (.yaml/.yml, else CSV).
func Parse(data []byte, name string) ([]domain.Experiment, error) {
	var (
		entries []Entry
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		entries, err = parseYAML(data)
	default:
		entries, err = parseCSV(bytes.NewReader(data))
	}
	if err != nil {
		return nil, &domain.ParseError{Kind: "worklist", Key: name, Err: err}
	}
	exps := make([]domain.Experiment, 0, len(entries))
	for i, e := range entries {
		exps = append(exps, e.Experiment(i))
	}
	return exps, nil
}

// Experiment converts the entry at work-list position index. Rows that cannot
// run as written are still returned, with Defect set, so that every row of
// the file ends as a ledger row.
func (e Entry) Experiment(index int) domain.Experiment {
	condition := strings.TrimSpace(e.Condition)
	if condition == "" {
		condition = strings.TrimSpace(e.CarbonSource)
	}
	exp := domain.Experiment{
		Index:     index,
		Organism:  strings.TrimSpace(e.Organism),
		OrgID:     strings.TrimSpace(e.OrgID),
		Condition: condition,
		ModelKey:  strings.TrimSpace(e.Model),
		MediumKey: strings.TrimSpace(e.Medium),
	}
	switch domain.Expectation(strings.ToLower(strings.TrimSpace(e.Expectation))) {
	case "", domain.ExpectFalseNegative:
		exp.Expectation = domain.ExpectFalseNegative
		exp.RepairRequired = true
	case domain.ExpectScreen:
		exp.Expectation = domain.ExpectScreen
	default:
		exp.Expectation = domain.ExpectFalseNegative
		exp.RepairRequired = true
		exp.Defect = fmt.Sprintf("row %d: unknown expectation %q", index+1, e.Expectation)
	}
	return exp
}

func parseYAML(data []byte) ([]Entry, error) {
	var list []Entry
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Experiments, nil
}

func parseCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty work list")
		}
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canonical, ok := columns[key]; ok {
			if _, dup := index[canonical]; !dup {
				index[canonical] = i
			}
		}
	}
	if _, ok := index["condition"]; !ok {
		return nil, errors.New("work list needs a condition or carbon_source column")
	}
	_, hasOrg := index["organism"]
	_, hasOrgID := index["orgId"]
	if !hasOrg && !hasOrgID {
		return nil, errors.New("work list needs an organism or orgId column")
	}
	var entries []Entry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		field := func(name string) string {
			if i, ok := index[name]; ok && i < len(record) {
				return record[i]
			}
			return ""
		}
		entries = append(entries, Entry{
			Organism:    field("organism"),
			OrgID:       field("orgId"),
			Condition:   field("condition"),
			Expectation: field("expectation"),
			Model:       field("model"),
			Medium:      field("medium"),
		})
	}
	return entries, nil
}
