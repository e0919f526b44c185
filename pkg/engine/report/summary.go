package report

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	bestStyle   = cellStyle.Foreground(lipgloss.Color("#00FF99"))
	warnStyle   = cellStyle.Foreground(lipgloss.Color("#FF5F87"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#555555"))
)

// Summary renders one row per solution. The preferred solution is
// highlighted and oversize counts are flagged.
func Summary(schema resource.Schema, records []SolutionRecord) string {
	headers := []string{"Algorithm", "Servers", "Filling"}
	for _, name := range schema.Names() {
		headers = append(headers, name)
	}
	headers = append(headers, "Oversize")
	oversizeCol := len(headers) - 1

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{r.Algorithm, strconv.Itoa(r.Servers), percent(r.FillingRate)}
		for _, name := range schema.Names() {
			row = append(row, percent(r.Utilization[name]))
		}
		oversize := strconv.Itoa(len(r.Oversize))
		if r.Exhausted {
			oversize += " (exhausted)"
		}
		rows = append(rows, append(row, oversize))
	}

	best := Best(records)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row < 0 || row >= len(records):
				return cellStyle
			case col == oversizeCol && len(records[row].Oversize) > 0:
				return warnStyle
			case row == best:
				return bestStyle
			}
			return cellStyle
		})
	return t.String()
}

func percent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
