// Package report renders ledger rows and projections into the tabular
// artifacts of a run (CSV tables and a YAML summary) and stores them in the
// blob store next to the models they describe.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"fluxrepair/internal/blob"
	"fluxrepair/internal/ledger"
	"fluxrepair/internal/network"
	"fluxrepair/pkg/domain"
)

// Artifact names written for every run.
const (
	OutcomesFile    = "outcomes.csv"
	ReactionsFile   = "reactions.csv"
	ErrorsFile      = "errors.csv"
	FrequenciesFile = "frequencies.csv"
	SummaryFile     = "summary.yaml"
)

// DefaultTopN is the number of leading reactions listed in summary.yaml.
const DefaultTopN = 20

var (
	outcomeColumns = []string{
		"organism", "org_id", "condition", "model_key", "medium_key",
		"pre_repair_flux", "pre_repair_status", "repair_attempted", "post_repair_flux",
		"classification", "num_reactions_added", "reactions_added", "candidate_count",
		"repaired_model_key", "error_category", "error_message", "duration_ms",
	}
	reactionColumns   = []string{"organism", "org_id", "condition", "reaction_id", "reaction_name", "reaction_formula", "subsystem"}
	errorColumns      = []string{"index", "organism", "org_id", "condition", "error_category", "error_message"}
	frequencyColumns  = []string{"reaction_id", "count", "percent"}
	derivationColumns = []string{"org_id", "base_model", "repaired_model", "base_reactions", "repaired_reactions", "num_added", "reactions_added"}
	correctionColumns = []string{"model_id", "original_reactions", "corrected_reactions", "num_exchanges_added", "exchanges_added", "already_present", "metabolites_inserted"}
)

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func writeCSV(w io.Writer, header []string, records [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// EncodeOutcomes writes one CSV line per ledger row.
func EncodeOutcomes(w io.Writer, rows []domain.Outcome) error {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		records = append(records, []string{
			r.Organism, r.OrgID, r.Condition, r.ModelKey, r.MediumKey,
			formatFloat(r.PreRepairFlux), string(r.PreRepairStatus), strconv.FormatBool(r.RepairAttempted),
			formatFloat(r.PostRepairFlux), string(r.Classification), strconv.Itoa(r.NumReactionsAdded()),
			r.ReactionsAddedString(), strconv.Itoa(r.CandidateCount), r.RepairedModelKey,
			string(r.ErrorCategory), r.ErrorMessage, strconv.FormatFloat(r.DurationMS, 'f', 3, 64),
		})
	}
	return writeCSV(w, outcomeColumns, records)
}

// EncodeReactions writes one CSV line per reaction added by a successful repair.
func EncodeReactions(w io.Writer, rows []domain.Outcome) error {
	var records [][]string
	for _, r := range rows {
		if r.Classification != domain.ClassRepairSucceeded {
			continue
		}
		details := r.AddedDetails
		if len(details) == 0 {
			for _, id := range r.ReactionsAdded {
				details = append(details, domain.AddedReaction{ID: id})
			}
		}
		for _, d := range details {
			records = append(records, []string{r.Organism, r.OrgID, r.Condition, d.ID, d.Name, d.Formula, d.Subsystem})
		}
	}
	return writeCSV(w, reactionColumns, records)
}

// EncodeErrors writes the error log.
func EncodeErrors(w io.Writer, entries []ledger.ErrorEntry) error {
	records := make([][]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, []string{strconv.Itoa(e.Index), e.Organism, e.OrgID, e.Condition, string(e.Category), e.Message})
	}
	return writeCSV(w, errorColumns, records)
}

// EncodeFrequencies writes the reaction frequency table.
func EncodeFrequencies(w io.Writer, freqs []ledger.ReactionFrequency) error {
	records := make([][]string, 0, len(freqs))
	for _, f := range freqs {
		records = append(records, []string{f.ReactionID, strconv.Itoa(f.Count), strconv.FormatFloat(f.Percent, 'f', 2, 64)})
	}
	return writeCSV(w, frequencyColumns, records)
}

// SummaryDocument is the content of summary.yaml.
type SummaryDocument struct {
	ledger.Summary `yaml:",inline"`
	TopReactions   []ledger.ReactionFrequency `yaml:"top_reactions"`
	Errors         []ledger.ErrorEntry        `yaml:"errors,omitempty"`
}

// EncodeSummary writes doc as YAML.
func EncodeSummary(w io.Writer, doc SummaryDocument) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return enc.Close()
}

// OrganismDerivation is the added set of one organism's repaired model.
type OrganismDerivation struct {
	OrgID string
	domain.Derivation
}

// EncodeDerivations writes one CSV line per organism.
func EncodeDerivations(w io.Writer, derivs []OrganismDerivation) error {
	records := make([][]string, 0, len(derivs))
	for _, d := range derivs {
		records = append(records, []string{
			d.OrgID, d.BaseID, d.DerivedID, strconv.Itoa(d.BaseCount), strconv.Itoa(d.FinalCount),
			strconv.Itoa(len(d.AddedSet)), strings.Join(d.AddedSet, ";"),
		})
	}
	return writeCSV(w, derivationColumns, records)
}

// EncodeCorrections writes the exchange-correction log.
func EncodeCorrections(w io.Writer, corrs []network.Correction) error {
	records := make([][]string, 0, len(corrs))
	for _, c := range corrs {
		records = append(records, []string{
			c.ModelID, strconv.Itoa(c.OriginalReactions), strconv.Itoa(c.CorrectedReactions),
			strconv.Itoa(len(c.ExchangesAdded)), strings.Join(c.ExchangesAdded, ";"),
			strings.Join(c.AlreadyPresent, ";"), strings.Join(c.MetabolitesInserted, ";"),
		})
	}
	return writeCSV(w, correctionColumns, records)
}

// Writer stores artifacts under a key prefix of a blob store. Existing
// artifacts are overwritten.
type Writer struct {
	blobs  blob.Store
	prefix string
	TopN   int
}

// NewWriter returns a Writer rooted at prefix.
func NewWriter(blobs blob.Store, prefix string) *Writer {
	return &Writer{blobs: blobs, prefix: strings.Trim(prefix, "/"), TopN: DefaultTopN}
}

// Key returns the blob key of the named artifact.
func (w *Writer) Key(name string) string {
	if w.prefix == "" {
		return name
	}
	return path.Join(w.prefix, name)
}

// WriteRun stores every artifact of a finished run and returns what was written.
func (w *Writer) WriteRun(ctx context.Context, summary ledger.Summary, rows []domain.Outcome) ([]blob.Info, error) {
	errs := ledger.ErrorLog(rows)
	freqs := ledger.Frequencies(rows)
	meta := map[string]string{"run-id": summary.RunID}
	steps := []struct {
		name        string
		contentType string
		encode      func(io.Writer) error
	}{
		{OutcomesFile, "text/csv", func(b io.Writer) error { return EncodeOutcomes(b, rows) }},
		{ReactionsFile, "text/csv", func(b io.Writer) error { return EncodeReactions(b, rows) }},
		{ErrorsFile, "text/csv", func(b io.Writer) error { return EncodeErrors(b, errs) }},
		{FrequenciesFile, "text/csv", func(b io.Writer) error { return EncodeFrequencies(b, freqs) }},
		{SummaryFile, "application/yaml", func(b io.Writer) error {
			return EncodeSummary(b, SummaryDocument{Summary: summary, TopReactions: ledger.Top(freqs, w.TopN), Errors: errs})
		}},
	}
	infos := make([]blob.Info, 0, len(steps))
	for _, step := range steps {
		info, err := w.Put(ctx, step.name, step.contentType, meta, step.encode)
		if err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Put renders one artifact with encode and stores it under name.
func (w *Writer) Put(ctx context.Context, name, contentType string, meta map[string]string, encode func(io.Writer) error) (blob.Info, error) {
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return blob.Info{}, fmt.Errorf("render %s: %w", name, err)
	}
	info, err := w.blobs.Put(ctx, w.Key(name), &buf, blob.PutOptions{ContentType: contentType, Metadata: meta, Overwrite: true})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store %s: %w", name, err)
	}
	return info, nil
}
