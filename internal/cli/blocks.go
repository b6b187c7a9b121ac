package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	blocksCmd := &cobra.Command{
		Use:   "blocks",
		Short: "Inspect note blocks",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List blocks in position order",
		Run:   runBlocksList,
	}

	toggleCmd := &cobra.Command{
		Use:   "toggle <block-id>",
		Short: "Mark a block completed or not",
		Args:  cobra.ExactArgs(1),
		Run:   runBlocksToggle,
	}
	toggleCmd.Flags().Bool("completed", true, "Completion state to set")

	blocksCmd.AddCommand(listCmd, toggleCmd)
	RootCmd.AddCommand(blocksCmd)

	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List silent analysis jobs",
		Run:   runJobs,
	}
	jobsCmd.Flags().Bool("all-owners", false, "List jobs for every owner")
	RootCmd.AddCommand(jobsCmd)
}

func runBlocksList(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	blocks, err := a.svc.ListBlocks(cmd.Context(), ownerID)
	if err != nil {
		exitErr("list blocks", err)
	}
	printJSON(blocks)
}

func runBlocksToggle(cmd *cobra.Command, args []string) {
	completed, _ := cmd.Flags().GetBool("completed")

	a := mustOpenApp()
	defer a.Close()

	b, err := a.svc.SetBlockCompleted(cmd.Context(), ownerID, args[0], completed)
	if err != nil {
		exitErr("update block", err)
	}
	printJSON(b)
}

func runJobs(cmd *cobra.Command, args []string) {
	allOwners, _ := cmd.Flags().GetBool("all-owners")

	a := mustOpenApp()
	defer a.Close()

	owner := ownerID
	if allOwners {
		owner = ""
	}
	jobs, err := a.svc.ListJobs(cmd.Context(), owner)
	if err != nil {
		exitErr("list jobs", err)
	}
	printJSON(jobs)
}
