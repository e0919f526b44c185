package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/vmplace/pkg/engine/milp"
	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/engine/report"
)

var lpOutput string

var milpCmd = &cobra.Command{
	Use:   "milp",
	Short: "Build or solve the exact placement model",
}

var milpExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the model in CPLEX LP format",
	Long: `Writes the nominal model: x_i_j is the share of workload i on server j,
y_j marks server j as used, and the objective minimizes the used servers.`,
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
		m, err := milp.Build(p, cfg.MILP.Relaxed)
		if err != nil {
			return err
		}

		if lpOutput == "" || lpOutput == "-" {
			return m.WriteLP(cmd.OutOrStdout())
		}
		f, err := os.Create(lpOutput)
		if err != nil {
			return err
		}
		if err := m.WriteLP(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "[SUCCESS] Wrote %s (%d columns)\n", lpOutput, m.NumColumns())
		return nil
	},
}

var milpSolveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve the model with glpsol and validate the assignment",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyQuantityFlags(&cfg); err != nil {
			return err
		}
		logger := newLogger(cfg)
		p, err := loadProblem(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}

		s := &milp.Strategy{
			Solver: &milp.GLPK{
				Binary:    cfg.MILP.Binary,
				TimeLimit: cfg.MILP.TimeLimit,
				Logger:    logger,
			},
			Relaxed: cfg.MILP.Relaxed,
		}
		sol, err := s.Solve(cmd.Context(), p)
		if err != nil {
			return err
		}
		records := report.Build(p, []*placement.Solution{sol})
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary(p.Schema, records))
		return nil
	},
}

func init() {
	milpExportCmd.Flags().StringVarP(&lpOutput, "out", "o", "", "LP file (default stdout)")
	for _, c := range []*cobra.Command{milpExportCmd, milpSolveCmd} {
		c.Flags().Bool("relaxed", false, "Relax x to [0,1]")
		c.Flags().String("glpsol", "", "Path to the glpsol binary")
		c.Flags().Duration("time-limit", 0, "glpsol time limit")
	}
	milpCmd.AddCommand(milpExportCmd, milpSolveCmd)
}
