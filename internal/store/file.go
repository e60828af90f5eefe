package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	json "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/internal/plan"
)

// File keeps every plan in a single JSON array on disk.
type File struct {
	path string
	log  *zap.Logger

	mu sync.Mutex
}

var _ Repository = (*File)(nil)

// NewFile creates a file repository. A leading "~" in path is expanded.
// The file itself is created on the first save.
func NewFile(path string, logger *zap.Logger) (*File, error) {
	if path == "" {
		return nil, errors.New("plan store path is empty")
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding plan store path: %w", err)
	}
	return &File{path: expanded, log: logger.Named("store").With(zap.String("path", expanded))}, nil
}

// Path is the expanded location of the store file.
func (f *File) Path() string { return f.path }

func (f *File) Save(_ context.Context, p *plan.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	plans, err := f.load()
	if err != nil {
		return err
	}
	replaced := false
	for i, existing := range plans {
		if existing.ID() == p.ID() {
			plans[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		plans = append(plans, p)
	}
	if err := f.write(plans); err != nil {
		return err
	}
	f.log.Debug("Plan saved.", zap.String("plan_id", p.ID()), zap.Bool("replaced", replaced))
	return nil
}

func (f *File) Get(_ context.Context, id string) (*plan.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	plans, err := f.load()
	if err != nil {
		return nil, err
	}
	for _, p := range plans {
		if p.ID() == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (f *File) List(_ context.Context) ([]*plan.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *File) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	plans, err := f.load()
	if err != nil {
		return err
	}
	for i, p := range plans {
		if p.ID() == id {
			plans = append(plans[:i], plans[i+1:]...)
			return f.write(plans)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (f *File) Scheduled(ctx context.Context) ([]*plan.Plan, error) {
	plans, err := f.List(ctx)
	if err != nil {
		return nil, err
	}
	return filterScheduled(plans), nil
}

func (f *File) ResetProgress(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	plans, err := f.load()
	if err != nil {
		return err
	}
	for _, p := range plans {
		if p.ID() == id {
			p.Reset()
			return f.write(plans)
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// load reads the array; a missing or empty file is an empty store.
func (f *File) load() ([]*plan.Plan, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return []*plan.Plan{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan store: %w", err)
	}
	var plans []*plan.Plan
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &plans); err != nil {
		return nil, fmt.Errorf("decoding plan store %s: %w", f.path, err)
	}
	if plans == nil {
		plans = []*plan.Plan{}
	}
	return plans, nil
}

// write replaces the file through a temp file and rename.
func (f *File) write(plans []*plan.Plan) error {
	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(plans, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan store: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating plan store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".plans-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing plan store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing plan store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing plan store: %w", err)
	}
	return nil
}
