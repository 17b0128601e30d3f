// Package modelstore resolves experiments to stored model, medium and bank
// documents and decodes them. All reads go through a blob.Store, so the same
// layout works on a local directory, in memory and on S3.
package modelstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"fluxrepair/internal/blob"
	"fluxrepair/pkg/domain"
)

// Layout holds the key templates used to locate documents. Templates may
// reference {org}, {condition} and {run}.
type Layout struct {
	DraftModel    string `mapstructure:"draft_model"`
	RepairedModel string `mapstructure:"repaired_model"`
	Medium        string `mapstructure:"medium"`
	Bank          string `mapstructure:"bank"`
	RepairOutput  string `mapstructure:"repair_output"`
}

// DefaultLayout mirrors the directory structure of a reconstruction project.
func DefaultLayout() Layout {
	return Layout{
		DraftModel:    "models/{org}_draft.json",
		RepairedModel: "models/{org}_gapfilled.json",
		Medium:        "media/{condition}.json",
		Bank:          "bank/universal.json",
		RepairOutput:  "models/{org}_{condition}_repaired_{run}.json",
	}
}

// Normalize fills empty templates from DefaultLayout.
func (l *Layout) Normalize() {
	def := DefaultLayout()
	if l.DraftModel == "" {
		l.DraftModel = def.DraftModel
	}
	if l.RepairedModel == "" {
		l.RepairedModel = def.RepairedModel
	}
	if l.Medium == "" {
		l.Medium = def.Medium
	}
	if l.Bank == "" {
		l.Bank = def.Bank
	}
	if l.RepairOutput == "" {
		l.RepairOutput = def.RepairOutput
	}
}

// Validate checks that per-experiment templates carry the placeholders they need.
func (l Layout) Validate() error {
	if !strings.Contains(l.DraftModel, "{org}") {
		return fmt.Errorf("layout.draft_model must contain {org}")
	}
	if !strings.Contains(l.RepairedModel, "{org}") {
		return fmt.Errorf("layout.repaired_model must contain {org}")
	}
	if !strings.Contains(l.Medium, "{condition}") {
		return fmt.Errorf("layout.medium must contain {condition}")
	}
	if strings.TrimSpace(l.Bank) == "" {
		return fmt.Errorf("layout.bank is required")
	}
	for _, p := range []string{"{org}", "{condition}", "{run}"} {
		if !strings.Contains(l.RepairOutput, p) {
			return fmt.Errorf("layout.repair_output must contain %s", p)
		}
	}
	return nil
}

// ConditionSlug converts a condition name to the form used in keys:
// spaces become underscores and commas are dropped.
func ConditionSlug(condition string) string {
	s := strings.TrimSpace(condition)
	s = strings.ReplaceAll(s, ",", "")
	return strings.ReplaceAll(s, " ", "_")
}

func expand(tmpl, org, condition, run string) string {
	r := strings.NewReplacer("{org}", org, "{condition}", ConditionSlug(condition), "{run}", run)
	return r.Replace(tmpl)
}

// Store loads documents addressed by a Layout.
type Store struct {
	blobs  blob.Store
	layout Layout
}

// New constructs a Store; empty layout templates take their defaults.
func New(blobs blob.Store, layout Layout) *Store {
	layout.Normalize()
	return &Store{blobs: blobs, layout: layout}
}

// Blobs exposes the underlying blob store for artifact writers.
func (s *Store) Blobs() blob.Store { return s.blobs }

// Layout returns the effective key layout.
func (s *Store) Layout() Layout { return s.layout }

// DraftModelKey returns the draft model key for an organism.
func (s *Store) DraftModelKey(orgID string) string {
	return expand(s.layout.DraftModel, orgID, "", "")
}

// RepairedModelKey returns the key of the previously repaired model of an organism.
func (s *Store) RepairedModelKey(orgID string) string {
	return expand(s.layout.RepairedModel, orgID, "", "")
}

// MediumKey returns the medium key for a condition.
func (s *Store) MediumKey(condition string) string {
	return expand(s.layout.Medium, "", condition, "")
}

// RepairOutputKey returns the artifact key for a model repaired during a run.
func (s *Store) RepairOutputKey(orgID, condition, runID string) string {
	return expand(s.layout.RepairOutput, orgID, condition, runID)
}

// BankKey returns the universal reaction bank key.
func (s *Store) BankKey() string { return s.layout.Bank }

// ResolveKeys fills the model and medium keys of exp from the layout unless
// the work list supplied explicit overrides.
func (s *Store) ResolveKeys(exp domain.Experiment) domain.Experiment {
	if exp.ModelKey == "" && exp.OrgID != "" {
		exp.ModelKey = s.DraftModelKey(exp.OrgID)
	}
	if exp.MediumKey == "" && exp.Condition != "" {
		exp.MediumKey = s.MediumKey(exp.Condition)
	}
	return exp
}

// Exists reports whether both documents of exp are present. The returned
// error wraps domain.ErrNotFound and names the first missing document.
func (s *Store) Exists(ctx context.Context, exp domain.Experiment) error {
	if exp.OrgID == "" || exp.ModelKey == "" {
		return domain.NotFoundError("model", "for "+exp.Label())
	}
	if exp.Condition == "" || exp.MediumKey == "" {
		return domain.NotFoundError("medium", "for "+exp.Label())
	}
	if _, err := s.blobs.Head(ctx, exp.ModelKey); err != nil {
		return mapErr("model", exp.ModelKey, err)
	}
	if _, err := s.blobs.Head(ctx, exp.MediumKey); err != nil {
		return mapErr("medium", exp.MediumKey, err)
	}
	return nil
}

// LoadModel reads and validates the model document at key.
func (s *Store) LoadModel(ctx context.Context, key string) (*domain.Model, error) {
	data, err := s.read(ctx, "model", key)
	if err != nil {
		return nil, err
	}
	var m domain.Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &domain.ParseError{Kind: "model", Key: key, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &domain.ParseError{Kind: "model", Key: key, Err: err}
	}
	return &m, nil
}

// LoadMedium reads the medium document at key. JSON and YAML documents are
// accepted; both map exchange reaction identifiers to uptake rates.
func (s *Store) LoadMedium(ctx context.Context, key string) (domain.Medium, error) {
	data, err := s.read(ctx, "medium", key)
	if err != nil {
		return nil, err
	}
	med := domain.Medium{}
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &med)
	default:
		err = json.Unmarshal(data, &med)
	}
	if err != nil {
		return nil, &domain.ParseError{Kind: "medium", Key: key, Err: err}
	}
	return med, nil
}

// LoadBank reads the universal reaction bank. It is loaded once per batch.
func (s *Store) LoadBank(ctx context.Context) (*domain.Bank, error) {
	key := s.BankKey()
	data, err := s.read(ctx, "bank", key)
	if err != nil {
		return nil, err
	}
	var m domain.Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &domain.ParseError{Kind: "bank", Key: key, Err: err}
	}
	if len(m.Reactions) == 0 {
		return nil, &domain.ParseError{Kind: "bank", Key: key, Err: errors.New("bank has no reactions")}
	}
	return domain.NewBank(&m), nil
}

// PutModel writes m as a model document at key.
func (s *Store) PutModel(ctx context.Context, key string, m *domain.Model, overwrite bool) (blob.Info, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return blob.Info{}, fmt.Errorf("encode model %s: %w", m.ID, err)
	}
	return s.blobs.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"model-id": m.ID},
		Overwrite:   overwrite,
	})
}

// ListModels returns the keys under prefix that hold JSON documents.
func (s *Store) ListModels(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".json") {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

func (s *Store) read(ctx context.Context, kind, key string) ([]byte, error) {
	_, rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, mapErr(kind, key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", kind, key, err)
	}
	return data, nil
}

func mapErr(kind, key string, err error) error {
	if errors.Is(err, blob.ErrNotFound) {
		return domain.NotFoundError(kind, key)
	}
	return fmt.Errorf("%s %s: %w", kind, key, err)
}
