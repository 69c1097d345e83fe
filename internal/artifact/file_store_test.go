package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

func testArtifact(scale float64) *model.ModelArtifact {
	return &model.ModelArtifact{
		Weights: map[string]model.Tensor{
			"layer1.weight": {Shape: []int{2, 2}, Data: []float64{1 * scale, 2 * scale, 3 * scale, 4 * scale}},
			"layer1.bias":   {Shape: []int{2}, Data: []float64{0.5 * scale, -0.5 * scale}},
		},
	}
}

func TestFileStorePutGet(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	original := testArtifact(1)
	ref, err := store.Put(ctx, original)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(ref, "b3:") || len(ref) != 3+64 {
		t.Fatalf("reference %q is not a b3 digest", ref)
	}

	loaded, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if loaded.Reference != ref {
		t.Errorf("loaded.Reference = %q, want %q", loaded.Reference, ref)
	}
	for name, want := range original.Weights {
		got, ok := loaded.Weights[name]
		if !ok {
			t.Fatalf("missing parameter %s", name)
		}
		if len(got.Shape) != len(want.Shape) || len(got.Data) != len(want.Data) {
			t.Fatalf("%s: got %+v, want %+v", name, got, want)
		}
		for i := range want.Data {
			if got.Data[i] != want.Data[i] {
				t.Errorf("%s[%d] = %v, want %v", name, i, got.Data[i], want.Data[i])
			}
		}
	}
}

func TestReferenceIsContentAddressed(t *testing.T) {
	a, err := Reference(testArtifact(1))
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	labelled := testArtifact(1)
	labelled.Reference = "ignored"
	b, err := Reference(labelled)
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	c, err := Reference(testArtifact(2))
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}

	if a != b {
		t.Errorf("equal weights produced different references: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different weights share a reference")
	}
}

func TestFileStorePutIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	first, err := store.Put(context.Background(), testArtifact(1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := store.Put(context.Background(), testArtifact(1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if first != second {
		t.Errorf("references differ: %s vs %s", first, second)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("store holds %d objects, want 1", len(entries))
	}
}

func TestFileStoreGetErrors(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Get(ctx, "initial_model_cid_v1"); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("Get(non-digest) error = %v, want ErrInvalidRef", err)
	}

	missing, err := Reference(testArtifact(3))
	if err != nil {
		t.Fatalf("Reference: %v", err)
	}
	if _, err := store.Get(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	ref, err := store.Put(ctx, testArtifact(1))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, blob, err := Encode(testArtifact(4))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	digest, _ := ParseRef(ref)
	if err := os.WriteFile(filepath.Join(dir, objectName(digest)), blob, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.Get(ctx, ref); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Get(tampered) error = %v, want ErrCorrupt", err)
	}
}

func TestNewStoreBackends(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(ctx, Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore(default): %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Errorf("default backend = %T, want *FileStore", store)
	}

	if _, err := NewStore(ctx, Options{Backend: "s3"}); err == nil {
		t.Error("s3 backend without a bucket should fail")
	}
	if _, err := NewStore(ctx, Options{Backend: "ipfs"}); err == nil {
		t.Error("unknown backend should fail")
	}
}
