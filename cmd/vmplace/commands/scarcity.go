package commands

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

var scarcityCmd = &cobra.Command{
	Use:   "scarcity",
	Short: "Print the per-resource scarcity ratio of the input",
	Long: `The scarcity ratio of a resource is its mean demand over its mean server
capacity. Best-fit with the weighted_resources criterion uses it as weights.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyQuantityFlags(&cfg); err != nil {
			return err
		}
		p, err := loadProblem(cmd.Context(), cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		ratio, err := placement.ScarcityRatio(p.Schema, p.Workloads, p.Capacities)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), scarcityTable(p, ratio))
		return nil
	},
}

func scarcityTable(p *placement.Problem, ratio resource.Vector) string {
	demand := resource.Total(p.Schema.Len(), p.Demands())
	capacity := resource.Total(p.Schema.Len(), p.Capacities)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RESOURCE", "TOTAL DEMAND", "TOTAL CAPACITY", "SCARCITY").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99")).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for d, name := range p.Schema.Names() {
		t.Row(name,
			fmt.Sprintf("%.6g", demand[d]),
			fmt.Sprintf("%.6g", capacity[d]),
			fmt.Sprintf("%.4f", ratio[d]),
		)
	}
	return t.Render()
}
