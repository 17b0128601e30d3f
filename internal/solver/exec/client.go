// Package exec drives an external solver process (for example a COBRApy
// script) that speaks a JSON request/response protocol on stdin/stdout.
//
// Each call starts one process, writes a single request document to its
// stdin and reads a single response document from its stdout:
//
//	{"operation": "optimize", "model": {...}}
//	{"operation": "gapfill", "model": {...}, "bank_path": "/tmp/bank.json"}
//
//	{"objective_value": 0.42, "status": "optimal"}
//	{"candidates": [["R1", "R2"], ["R3"]]}
//	{"error": "model has no objective"}
//
// The universal bank is materialised to a temporary file once per bank and
// referenced by path, so large banks are not piped on every search.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"fluxrepair/internal/solver"
	"fluxrepair/pkg/domain"
)

const maxStderr = 2048

// Config describes the solver command.
type Config struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
	Dir     string   `mapstructure:"dir"`
}

type request struct {
	Operation string        `json:"operation"`
	Model     *domain.Model `json:"model"`
	BankPath  string        `json:"bank_path,omitempty"`
	BankID    string        `json:"bank_id,omitempty"`
}

type response struct {
	ObjectiveValue *float64   `json:"objective_value,omitempty"`
	Status         string     `json:"status,omitempty"`
	Candidates     [][]string `json:"candidates,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Client implements solver.Oracle and solver.RepairSearch by shelling out.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	tmpDir  string
	banks   map[*domain.Bank]string
	closed  bool
	started int
}

var (
	_ solver.Oracle       = (*Client)(nil)
	_ solver.RepairSearch = (*Client)(nil)
)

// New validates cfg and returns a Client. Close releases materialised banks.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("solver command is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger, banks: make(map[*domain.Bank]string)}, nil
}

// Optimize asks the solver for the optimal growth objective of m.
func (c *Client) Optimize(ctx context.Context, m *domain.Model) (solver.Solution, error) {
	resp, err := c.call(ctx, request{Operation: "optimize", Model: m})
	if err != nil {
		return solver.Solution{}, err
	}
	if resp.ObjectiveValue == nil {
		return solver.Solution{}, fmt.Errorf("optimize %s: response has no objective_value", m.ID)
	}
	return solver.Solution{ObjectiveValue: *resp.ObjectiveValue, Status: solver.NormalizeStatus(resp.Status)}, nil
}

// Gapfill asks the solver for minimal reaction sets from bank that restore growth of m.
func (c *Client) Gapfill(ctx context.Context, m *domain.Model, bank *domain.Bank) ([]solver.Candidate, error) {
	path, err := c.bankPath(bank)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, request{Operation: "gapfill", Model: m, BankPath: path, BankID: bank.ID()})
	if err != nil {
		return nil, err
	}
	out := make([]solver.Candidate, 0, len(resp.Candidates))
	for _, ids := range resp.Candidates {
		out = append(out, solver.Candidate{Reactions: ids})
	}
	return out, nil
}

// Calls returns how many solver processes have been started.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// Close removes materialised bank files.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.tmpDir == "" {
		return nil
	}
	err := os.RemoveAll(c.tmpDir)
	c.tmpDir = ""
	c.banks = make(map[*domain.Bank]string)
	return err
}

func (c *Client) bankPath(bank *domain.Bank) (string, error) {
	if bank == nil {
		return "", errors.New("gapfill: nil bank")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", errors.New("solver client closed")
	}
	if p, ok := c.banks[bank]; ok {
		return p, nil
	}
	if c.tmpDir == "" {
		dir, err := os.MkdirTemp("", "fluxrepair-bank-*")
		if err != nil {
			return "", fmt.Errorf("bank temp dir: %w", err)
		}
		c.tmpDir = dir
	}
	p := filepath.Join(c.tmpDir, fmt.Sprintf("bank-%d.json", len(c.banks)))
	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("materialise bank: %w", err)
	}
	if err := bank.EncodeJSON(f); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("materialise bank: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("materialise bank: %w", err)
	}
	c.banks[bank] = p
	c.logger.Debug("bank materialised", zap.String("bank", bank.ID()), zap.String("path", p), zap.Int("reactions", bank.Len()))
	return p, nil
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("%s: encode request: %w", req.Operation, err)
	}
	cmd := osexec.CommandContext(ctx, c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.mu.Lock()
	c.started++
	c.mu.Unlock()

	start := time.Now()
	runErr := cmd.Run()
	c.logger.Debug("solver call",
		zap.String("operation", req.Operation),
		zap.String("model", req.Model.ID),
		zap.Duration("duration", time.Since(start)),
		zap.Int("stdout_bytes", stdout.Len()),
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return response{}, fmt.Errorf("%s %s: %w", req.Operation, req.Model.ID, ctxErr)
	}
	if runErr != nil {
		return response{}, fmt.Errorf("%s %s: %w: %s", req.Operation, req.Model.ID, runErr, tail(stderr.String()))
	}
	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return response{}, fmt.Errorf("%s %s: decode response: %w", req.Operation, req.Model.ID, err)
	}
	if resp.Error != "" {
		return response{}, fmt.Errorf("%s %s: solver error: %s", req.Operation, req.Model.ID, resp.Error)
	}
	return resp, nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		return "..." + s[len(s)-maxStderr:]
	}
	return s
}
