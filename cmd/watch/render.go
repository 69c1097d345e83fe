package main

import (
	"fmt"
	"strings"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch/evaluation"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/status"
	"github.com/pterm/pterm"
)

// render draws the dashboard for one observation of the status file and the
// accuracy history recorded so far.
func render(path string, s status.Status, ok bool, history []model.HistoryEntry) string {
	var b strings.Builder

	title := pterm.DefaultHeader.WithFullWidth().Sprintf("FL run status (%s)", path)
	b.WriteString(title)
	b.WriteString("\n")

	if !ok {
		b.WriteString(pterm.Warning.Sprintln("Waiting for the orchestrator to publish a status..."))
		return b.String()
	}

	b.WriteString(pterm.DefaultBox.WithTitle(phaseLabel(s)).Sprint(progress(s)))
	b.WriteString("\n")

	if info, found := s.LedgerInfo(); found {
		table, err := pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
			{"Ledger", "Block", "Round", "Updates", "Global model"},
			{
				common.Truncate(info.LedgerAddress, 14),
				fmt.Sprintf("%d", info.BlockNumber),
				fmt.Sprintf("%d", info.OnchainRound),
				fmt.Sprintf("%d/%d", info.UpdatesReceived, info.UpdatesNeeded),
				common.Truncate(info.GlobalModelRef, 20),
			},
		}).Srender()
		if err == nil {
			b.WriteString(table)
			b.WriteString("\n")
		}
	}

	if chart, err := evaluation.RenderChart(history); err == nil {
		b.WriteString(pterm.DefaultSection.Sprint("Accuracy"))
		b.WriteString(chart)
		b.WriteString("\n")
	}

	if tail := s.LogTail(); len(tail) > 0 {
		b.WriteString(pterm.DefaultSection.Sprint("Log"))
		for _, line := range tail {
			b.WriteString(pterm.Gray(line))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func phaseLabel(s status.Status) string {
	switch s.Phase() {
	case status.PhaseFinished:
		return pterm.LightGreen(s.OverallStatus())
	case status.PhaseError:
		return pterm.LightRed(s.OverallStatus())
	default:
		return pterm.LightYellow(s.OverallStatus())
	}
}

func progress(s status.Status) string {
	total := s.TotalRounds()
	done := s.Round()
	if s.Phase() == status.PhaseRunningRound && done > 0 {
		done--
	}
	if total <= 0 {
		total = 1
	}

	width := 30
	filled := min(done*width/total, width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return pterm.Sprintf("Round %d/%d  %s\nStep: %s", s.Round(), s.TotalRounds(), bar, s.Step())
}
