package evaluation

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/pterm/pterm"
)

const chartWidth = 50

// RenderChart draws accuracy per round as a horizontal bar chart.
func RenderChart(entries []model.HistoryEntry) (string, error) {
	if len(entries) == 0 {
		return "", errors.New("no finalized rounds to chart")
	}

	bars := make(pterm.Bars, 0, len(entries))
	for _, entry := range entries {
		bars = append(bars, pterm.Bar{
			Label:      fmt.Sprintf("Round %d (%.2f%%)", entry.Round, entry.Accuracy),
			Value:      int(math.Round(entry.Accuracy)),
			Style:      pterm.NewStyle(pterm.FgCyan),
			LabelStyle: pterm.NewStyle(pterm.FgDefault),
		})
	}

	return pterm.DefaultBarChart.
		WithHorizontal().
		WithWidth(chartWidth).
		WithBars(bars).
		Srender()
}

// ChartPath is where the chart of the history at historyPath is written.
func ChartPath(historyPath string) string {
	return filepath.Join(filepath.Dir(historyPath), common.DEFAULT_CHART_FILE)
}

// WriteChart renders entries as plain text and atomically replaces path.
func WriteChart(path string, entries []model.HistoryEntry) error {
	chart, err := RenderChart(entries)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Accuracy vs rounds\n\n%s\n", pterm.RemoveColorFromString(chart))
	if err := common.WriteFileAtomic(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("writing accuracy chart: %w", err)
	}
	return nil
}
