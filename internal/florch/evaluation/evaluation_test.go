package evaluation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

func heldOut() *model.ModelArtifact {
	return &model.ModelArtifact{Weights: map[string]model.Tensor{
		"w": {Shape: []int{2}, Data: []float64{1, 1}},
	}}
}

func TestHeldOutEvaluator(t *testing.T) {
	ev := NewHeldOutEvaluator(heldOut())
	ctx := context.Background()

	perfect, err := Score(ctx, ev, heldOut())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if perfect != 100 {
		t.Errorf("identical weights scored %v, want 100", perfect)
	}

	near := &model.ModelArtifact{Weights: map[string]model.Tensor{"w": {Shape: []int{2}, Data: []float64{1.5, 0.5}}}}
	far := &model.ModelArtifact{Weights: map[string]model.Tensor{"w": {Shape: []int{2}, Data: []float64{5, -3}}}}

	nearScore, err := Score(ctx, ev, near)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	farScore, err := Score(ctx, ev, far)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if !(farScore < nearScore && nearScore < perfect) {
		t.Errorf("scores not ordered by distance: far=%v near=%v perfect=%v", farScore, nearScore, perfect)
	}
	if nearScore != 100.0/1.5 {
		t.Errorf("near scored %v, want %v", nearScore, 100.0/1.5)
	}
}

func TestScoreWrapsFailures(t *testing.T) {
	ctx := context.Background()
	artifact := &model.ModelArtifact{Reference: "b3:abc", Weights: map[string]model.Tensor{}}

	tests := []struct {
		name string
		ev   IEvaluator
	}{
		{"evaluator error", EvaluatorFunc(func(context.Context, *model.ModelArtifact) (float64, error) {
			return 0, errors.New("evaluator crashed")
		})},
		{"above range", EvaluatorFunc(func(context.Context, *model.ModelArtifact) (float64, error) {
			return 100.5, nil
		})},
		{"below range", EvaluatorFunc(func(context.Context, *model.ModelArtifact) (float64, error) {
			return -1, nil
		})},
		{"missing parameter", NewHeldOutEvaluator(heldOut())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Score(ctx, tt.ev, artifact)
			var evalErr *EvaluationError
			if !errors.As(err, &evalErr) {
				t.Fatalf("error = %v, want *EvaluationError", err)
			}
			if evalErr.ArtifactRef != "b3:abc" {
				t.Errorf("ArtifactRef = %q", evalErr.ArtifactRef)
			}
		})
	}
}

func TestHistoryAppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "history.csv")
	history := NewHistory(path)

	entries, err := history.Entries()
	if err != nil || len(entries) != 0 {
		t.Fatalf("Entries on missing file = %v, %v", entries, err)
	}

	rows := []model.HistoryEntry{{Round: 1, Accuracy: 71.234}, {Round: 2, Accuracy: 80}, {Round: 2, Accuracy: 80}}
	for _, row := range rows {
		if err := history.Append(row.Round, row.Accuracy); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := "Round,Accuracy\n1,71.23\n2,80.00\n2,80.00\n"
	if string(raw) != want {
		t.Errorf("file = %q, want %q", raw, want)
	}

	entries, err = history.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3 (no dedup)", len(entries))
	}
	if entries[0].Round != 1 || entries[0].Accuracy != 71.23 {
		t.Errorf("entries[0] = %+v", entries[0])
	}
}

func TestHistoryHeaderForEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.csv")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	history := NewHistory(path)
	if err := history.Append(1, 50); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// a second history over the same file must not repeat the header
	if err := NewHistory(path).Append(2, 60); err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Count(string(raw), "Round,Accuracy") != 1 {
		t.Errorf("header written more than once:\n%s", raw)
	}
}

func TestWriteChart(t *testing.T) {
	historyPath := filepath.Join(t.TempDir(), "logs", "history.csv")
	path := ChartPath(historyPath)
	if filepath.Dir(path) != filepath.Dir(historyPath) {
		t.Fatalf("chart %s is not beside the history %s", path, historyPath)
	}

	entries := []model.HistoryEntry{{Round: 1, Accuracy: 40.5}, {Round: 2, Accuracy: 62}, {Round: 3, Accuracy: 71.25}}
	if err := WriteChart(path, entries); err != nil {
		t.Fatalf("WriteChart: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(raw)
	for _, want := range []string{"Accuracy vs rounds", "Round 1 (40.50%)", "Round 3 (71.25%)"} {
		if !strings.Contains(text, want) {
			t.Errorf("chart misses %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "\x1b[") {
		t.Errorf("chart file holds terminal escape codes:\n%q", text)
	}

	if err := WriteChart(path, nil); err == nil {
		t.Error("charting an empty history should fail")
	}
}
