// Package curation holds the model maintenance passes that run outside the
// experiment batch: diffing repaired models against their drafts and adding
// missing exchange reactions.
package curation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"fluxrepair/internal/ledger"
	"fluxrepair/internal/modelstore"
	"fluxrepair/internal/network"
	"fluxrepair/internal/report"
	"fluxrepair/pkg/domain"
)

// OrganismIDs lists the organisms that have a draft model under the store's
// draft template, sorted.
func OrganismIDs(ctx context.Context, store *modelstore.Store) ([]string, error) {
	tmpl := store.Layout().DraftModel
	before, after, ok := strings.Cut(tmpl, "{org}")
	if !ok {
		return nil, fmt.Errorf("draft template %q has no {org}", tmpl)
	}
	keys, err := store.ListModels(ctx, before)
	if err != nil {
		return nil, fmt.Errorf("list draft models: %w", err)
	}
	seen := make(map[string]struct{}, len(keys))
	var ids []string
	for _, key := range keys {
		if !strings.HasPrefix(key, before) || !strings.HasSuffix(key, after) || len(key) <= len(before)+len(after) {
			continue
		}
		id := key[len(before) : len(key)-len(after)]
		if strings.Contains(id, "/") {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// AddedReactions is the outcome of diffing every repaired model against its draft.
type AddedReactions struct {
	Derivations []report.OrganismDerivation
	// Skipped lists organisms without a repaired model.
	Skipped     []string
	Frequencies []ledger.ReactionFrequency
}

// DiffRepairs derives the added reaction set of each organism's repaired
// model. Organisms without a repaired model are skipped; any other failure
// aborts the pass.
func DiffRepairs(ctx context.Context, store *modelstore.Store, orgIDs []string, logger *zap.Logger) (AddedReactions, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out AddedReactions
	var sets [][]string
	for _, org := range orgIDs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		draft, err := store.LoadModel(ctx, store.DraftModelKey(org))
		if err != nil {
			return out, err
		}
		repaired, err := store.LoadModel(ctx, store.RepairedModelKey(org))
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("no repaired model", zap.String("org_id", org))
			out.Skipped = append(out.Skipped, org)
			continue
		}
		if err != nil {
			return out, err
		}
		d, err := domain.Derive(draft, repaired)
		if err != nil {
			return out, fmt.Errorf("organism %s: %w", org, err)
		}
		logger.Info("derived repaired model",
			zap.String("org_id", org),
			zap.Int("reactions_added", len(d.AddedSet)))
		out.Derivations = append(out.Derivations, report.OrganismDerivation{OrgID: org, Derivation: d})
		sets = append(sets, d.AddedSet)
	}
	out.Frequencies = ledger.SetFrequencies(sets)
	return out, nil
}

// MissingExchanges maps an organism to the exchanges it lacks, in input order.
type MissingExchanges struct {
	Order []string
	ByOrg map[string][]network.ExchangeSpec
}

// ParseMissingExchanges reads a CSV with orgId, compound_id and an optional
// compound_name column. Names fall back to the matching entry of known.
func ParseMissingExchanges(r io.Reader, known []network.ExchangeSpec) (MissingExchanges, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return MissingExchanges{}, fmt.Errorf("read missing exchanges: %w", err)
	}
	out := MissingExchanges{ByOrg: map[string][]network.ExchangeSpec{}}
	if len(records) == 0 {
		return out, nil
	}
	cols := map[string]int{}
	for i, h := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	orgCol, ok := lookup(cols, "orgid", "org_id")
	if !ok {
		return out, fmt.Errorf("missing exchanges: no orgId column")
	}
	cpdCol, ok := lookup(cols, "compound_id")
	if !ok {
		return out, fmt.Errorf("missing exchanges: no compound_id column")
	}
	nameCol, hasName := lookup(cols, "compound_name", "name")
	names := make(map[string]string, len(known))
	for _, k := range known {
		names[k.CompoundID] = k.Name
	}
	for line, rec := range records[1:] {
		org, cpd := field(rec, orgCol), field(rec, cpdCol)
		if org == "" || cpd == "" {
			return out, fmt.Errorf("missing exchanges line %d: orgId and compound_id are required", line+2)
		}
		spec := network.ExchangeSpec{CompoundID: cpd, Name: names[cpd]}
		if hasName && field(rec, nameCol) != "" {
			spec.Name = field(rec, nameCol)
		}
		if _, seen := out.ByOrg[org]; !seen {
			out.Order = append(out.Order, org)
		}
		out.ByOrg[org] = append(out.ByOrg[org], spec)
	}
	return out, nil
}

func lookup(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

// ExchangeCorrector adds missing exchange reactions to repaired models and
// writes the corrected documents under an output template.
type ExchangeCorrector struct {
	Store       *modelstore.Store
	Compartment string
	// Output is the key template of corrected models; {org} is replaced.
	Output string
	Logger *zap.Logger
}

// Correct applies plan to each organism's repaired model. Organisms whose
// model is missing are logged and skipped.
func (c ExchangeCorrector) Correct(ctx context.Context, plan MissingExchanges) ([]network.Correction, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var corrections []network.Correction
	for i, org := range plan.Order {
		if err := ctx.Err(); err != nil {
			return corrections, err
		}
		src := c.Store.RepairedModelKey(org)
		m, err := c.Store.LoadModel(ctx, src)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("model not found", zap.String("org_id", org), zap.String("key", src))
			continue
		}
		if err != nil {
			return corrections, err
		}
		corrected, corr := network.AddExchanges(m, plan.ByOrg[org], c.Compartment)
		dst := strings.ReplaceAll(c.Output, "{org}", org)
		if _, err := c.Store.PutModel(ctx, dst, corrected, true); err != nil {
			return corrections, fmt.Errorf("write corrected model %s: %w", dst, err)
		}
		corr.ModelID = org
		logger.Info("corrected exchanges",
			zap.Int("position", i+1),
			zap.Int("organisms", len(plan.Order)),
			zap.String("org_id", org),
			zap.Strings("added", corr.ExchangesAdded),
			zap.Strings("already_present", corr.AlreadyPresent),
			zap.String("key", dst))
		corrections = append(corrections, corr)
	}
	return corrections, nil
}

// Uniform builds a plan giving every organism the same exchange list.
func Uniform(orgIDs []string, specs []network.ExchangeSpec) MissingExchanges {
	plan := MissingExchanges{ByOrg: make(map[string][]network.ExchangeSpec, len(orgIDs))}
	for _, org := range orgIDs {
		if _, seen := plan.ByOrg[org]; seen {
			continue
		}
		plan.Order = append(plan.Order, org)
		plan.ByOrg[org] = append([]network.ExchangeSpec(nil), specs...)
	}
	return plan
}
