package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

// FileStore keeps one compressed object per artifact in a local directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = common.DEFAULT_ARTIFACTS_DIR
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(ctx context.Context, a *model.ModelArtifact) (string, error) {
	ref, blob, err := Encode(a)
	if err != nil {
		return "", err
	}
	digest, _ := ParseRef(ref)

	path := filepath.Join(s.dir, objectName(digest))
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := common.WriteFileAtomic(path, blob, 0644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", ref, err)
	}

	return ref, nil
}

func (s *FileStore) Get(ctx context.Context, ref string) (*model.ModelArtifact, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(filepath.Join(s.dir, objectName(digest)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", ref, err)
	}

	return Decode(ref, blob)
}
