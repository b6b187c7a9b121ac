package cli

import (
	"github.com/spf13/cobra"

	"github.com/bainianlaoyao/stream-note/internal/store"
)

func init() {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and update extracted tasks",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Long:  "List tasks, newest first. Tasks completed more than a day ago are hidden unless --all is set.",
		Run:   runTasksList,
	}
	listCmd.Flags().StringP("status", "s", "", "Filter by status: pending or completed")
	listCmd.Flags().BoolP("all", "a", false, "Include tasks completed more than a day ago")

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Count tasks by status",
		Run:   runTasksSummary,
	}
	summaryCmd.Flags().BoolP("all", "a", false, "Include tasks completed more than a day ago")

	setCmd := &cobra.Command{
		Use:   "set <task-id> <pending|completed>",
		Short: "Set a task's status",
		Args:  cobra.ExactArgs(2),
		Run:   runTasksSet,
	}

	deleteCmd := &cobra.Command{
		Use:     "delete <task-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		Run:     runTasksDelete,
	}

	tasksCmd.AddCommand(listCmd, summaryCmd, setCmd, deleteCmd)
	RootCmd.AddCommand(tasksCmd)
}

func runTasksList(cmd *cobra.Command, args []string) {
	status, _ := cmd.Flags().GetString("status")
	all, _ := cmd.Flags().GetBool("all")

	a := mustOpenApp()
	defer a.Close()

	tasks, err := a.svc.ListTasks(cmd.Context(), store.TaskFilter{OwnerID: ownerID, Status: status, IncludeHidden: all})
	if err != nil {
		exitErr("list tasks", err)
	}
	printJSON(tasks)
}

func runTasksSummary(cmd *cobra.Command, args []string) {
	all, _ := cmd.Flags().GetBool("all")

	a := mustOpenApp()
	defer a.Close()

	sum, err := a.svc.SummarizeTasks(cmd.Context(), store.TaskFilter{OwnerID: ownerID, IncludeHidden: all})
	if err != nil {
		exitErr("summarize tasks", err)
	}
	printJSON(sum)
}

func runTasksSet(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	t, err := a.svc.SetTaskStatus(cmd.Context(), ownerID, args[0], args[1])
	if err != nil {
		exitErr("set task status", err)
	}
	printJSON(t)
}

func runTasksDelete(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	if err := a.svc.DeleteTask(cmd.Context(), ownerID, args[0]); err != nil {
		exitErr("delete task", err)
	}
	printJSON(map[string]any{"deleted": true, "id": args[0]})
}
