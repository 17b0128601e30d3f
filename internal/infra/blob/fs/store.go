// Package fs implements core.Store on a local directory tree, the layout a
// reconstruction project keeps its models and media in.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fluxrepair/internal/blob/core"
)

const (
	sidecarExt    = ".meta"
	partialPrefix = ".tmp-"
)

// Store maps keys to files under root. Blobs written through Put get a JSON
// sidecar (file name + ".meta") holding content type, metadata and digest.
// Files placed by other tools have no sidecar and are described from stat.
type Store struct {
	root string
}

// New returns a store rooted at root, creating the directory when missing.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./data"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory the store is rooted at.
func (s *Store) Root() string { return s.root }

type location struct {
	key     string
	file    string
	sidecar string
}

// locate resolves key to its file. Keys must stay inside root.
func (s *Store) locate(key string) (location, error) {
	switch {
	case strings.TrimSpace(key) == "":
		return location{}, errors.New("blob key is empty")
	case strings.HasPrefix(key, "/"):
		return location{}, fmt.Errorf("blob key %q is absolute", key)
	case strings.Contains(key, ".."):
		return location{}, fmt.Errorf("blob key %q leaves the store root", key)
	}
	clean := filepath.ToSlash(filepath.Clean(key))
	if strings.HasSuffix(clean, sidecarExt) {
		return location{}, fmt.Errorf("blob key %q uses the reserved %s suffix", key, sidecarExt)
	}
	file := filepath.Join(s.root, filepath.FromSlash(clean))
	return location{key: clean, file: file, sidecar: file + sidecarExt}, nil
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Digest      string            `json:"etag"`
	Size        int64             `json:"size"`
	Created     time.Time         `json:"created_at"`
	Modified    time.Time         `json:"updated_at"`
}

func (sc sidecar) describe(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         sc.Size,
		ContentType:  sc.ContentType,
		ETag:         sc.Digest,
		Metadata:     maps.Clone(sc.Metadata),
		LastModified: sc.Modified,
	}
}

func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	loc, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	created := time.Now().UTC()
	if _, err := os.Stat(loc.file); err == nil {
		if !opts.Overwrite {
			return core.Info{}, fmt.Errorf("blob %s: %w", key, core.ErrExists)
		}
		if prev, err := loadSidecar(loc.sidecar); err == nil {
			created = prev.Created
		}
	}
	size, digest, err := writeAtomic(loc.file, r)
	if err != nil {
		return core.Info{}, fmt.Errorf("blob %s: %w", key, err)
	}
	sc := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		Digest:      digest,
		Size:        size,
		Created:     created,
		Modified:    time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return core.Info{}, err
	}
	if err := os.WriteFile(loc.sidecar, raw, 0o644); err != nil {
		return core.Info{}, fmt.Errorf("blob %s sidecar: %w", key, err)
	}
	return sc.describe(loc.key), nil
}

// writeAtomic streams r into a temporary file next to dst and renames it into
// place, so readers never observe a partial document.
func writeAtomic(dst string, r io.Reader) (int64, string, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", err
	}
	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	sum := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, sum), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(sum.Sum(nil)), nil
}

func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	loc, _ := s.locate(key)
	f, err := os.Open(loc.file)
	if err != nil {
		return core.Info{}, nil, missing(key, err)
	}
	return info, f, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	loc, err := s.locate(key)
	if err != nil {
		return core.Info{}, err
	}
	st, err := os.Stat(loc.file)
	if err != nil {
		return core.Info{}, missing(key, err)
	}
	if st.IsDir() {
		return core.Info{}, fmt.Errorf("blob %s is a directory: %w", key, core.ErrNotFound)
	}
	return describeFile(loc.key, loc.sidecar, st)
}

// describeFile prefers the sidecar and falls back to stat for hand-placed files.
func describeFile(key, sidecarPath string, st os.FileInfo) (core.Info, error) {
	sc, err := loadSidecar(sidecarPath)
	switch {
	case err == nil:
		return sc.describe(key), nil
	case errors.Is(err, iofs.ErrNotExist):
		return core.Info{Key: key, Size: st.Size(), ContentType: guessContentType(key), LastModified: st.ModTime().UTC()}, nil
	default:
		return core.Info{}, fmt.Errorf("blob %s sidecar: %w", key, err)
	}
}

func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var out []core.Info
	walkErr := filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), sidecarExt) || strings.HasPrefix(d.Name(), partialPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		st, err := d.Info()
		if err != nil {
			return err
		}
		info, err := describeFile(key, p+sidecarExt, st)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func guessContentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return ""
	}
}

func missing(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}

func loadSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return sidecar{}, err
	}
	var sc sidecar
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sidecar{}, err
	}
	return sc, nil
}
