package artifact

import (
	"context"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

type IStore interface {
	// Put stores a and returns its reference. Storing equal content twice is a no-op.
	Put(ctx context.Context, a *model.ModelArtifact) (string, error)
	Get(ctx context.Context, ref string) (*model.ModelArtifact, error)
}

type Options struct {
	Backend string
	Dir     string
	S3      S3Config
}

func NewStore(ctx context.Context, opts Options) (IStore, error) {
	switch opts.Backend {
	case "", common.ARTIFACT_BACKEND_FILE:
		return NewFileStore(opts.Dir)
	case common.ARTIFACT_BACKEND_S3:
		return NewS3Store(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", opts.Backend)
	}
}
