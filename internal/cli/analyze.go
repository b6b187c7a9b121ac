package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var errConfirm = errors.New("pass --yes to confirm")

func init() {
	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Extract tasks from the note now",
		Long:  "Run one analysis pass over the note's unanalyzed blocks immediately and report the tasks found.",
		Run:   runAnalyze,
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all tasks and mark every block unanalyzed",
		Run:   runReset,
	}
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")

	RootCmd.AddCommand(analyzeCmd, resetCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	res, err := a.svc.AnalyzeNow(cmd.Context(), ownerID)
	if err != nil {
		exitErr("analyze", err)
	}
	printJSON(res)
}

func runReset(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("reset", errConfirm)
	}

	a := mustOpenApp()
	defer a.Close()

	counts, err := a.svc.ResetAnalysis(cmd.Context(), ownerID)
	if err != nil {
		exitErr("reset", err)
	}
	printJSON(counts)
}
