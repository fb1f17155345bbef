package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/starford/notepub/internal/ledger"
)

// runsTable renders recorded runs, newest first, as a bordered table.
func runsTable(runs []ledger.RunRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STARTED", "MODE", "PROVIDER", "STATUS", "WRITTEN", "DELETED", "ID")
	for _, r := range runs {
		t.Row(
			r.StartedAt.Local().Format(time.DateTime),
			r.Mode,
			r.Provider,
			r.Status,
			fmt.Sprintf("%d/%d", r.Written, r.Total),
			fmt.Sprintf("%d", r.Deleted),
			r.ID,
		)
	}
	return t.Render()
}
