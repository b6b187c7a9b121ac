package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/bainianlaoyao/stream-note/internal/richtext"
)

const previewRunes = 60

func init() {
	revCmd := &cobra.Command{
		Use:     "revisions",
		Aliases: []string{"rev"},
		Short:   "Inspect, export and restore note revisions",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List revisions, newest first",
		Run:   runRevisionsList,
	}
	listCmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the note and its full revision history as JSON",
		Run:   runRevisionsExport,
	}
	exportCmd.Flags().String("out", "", "Write to this file atomically instead of stdout")

	candidatesCmd := &cobra.Command{
		Use:   "candidates",
		Short: "Show revisions worth recovering",
		Run:   runRevisionsCandidates,
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <revision-id>",
		Short: "Replace the note with a revision's content",
		Long:  "Replace the note with a revision's content. The current content is kept as an undo point.",
		Args:  cobra.ExactArgs(1),
		Run:   runRevisionsRestore,
	}

	revCmd.AddCommand(listCmd, exportCmd, candidatesCmd, restoreCmd)
	RootCmd.AddCommand(revCmd)
}

type revisionLine struct {
	ID                     string `json:"id"`
	RevisionNo             int    `json:"revision_no"`
	Reason                 string `json:"reason"`
	CharCount              int    `json:"char_count"`
	RestoredFromRevisionID string `json:"restored_from_revision_id,omitempty"`
	CreatedAt              string `json:"created_at"`
	Preview                string `json:"preview"`
}

func runRevisionsList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	a := mustOpenApp()
	defer a.Close()

	revs, err := a.svc.ListRevisions(cmd.Context(), ownerID, limit)
	if err != nil {
		exitErr("list revisions", err)
	}
	out := make([]revisionLine, 0, len(revs))
	for _, r := range revs {
		out = append(out, revisionLine{
			ID:                     r.ID,
			RevisionNo:             r.RevisionNo,
			Reason:                 r.Reason,
			CharCount:              r.CharCount,
			RestoredFromRevisionID: r.RestoredFromRevisionID,
			CreatedAt:              r.CreatedAt.Format(time.RFC3339),
			Preview:                richtext.Preview(r.Content, previewRunes),
		})
	}
	printJSON(out)
}

func runRevisionsExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	a := mustOpenApp()
	defer a.Close()

	exp, err := a.svc.ExportRevisions(cmd.Context(), ownerID)
	if err != nil {
		exitErr("export", err)
	}
	if out == "" {
		printJSON(exp)
		return
	}

	b, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		exitErr("encode export", err)
	}
	if err := atomic.WriteFile(out, bytes.NewReader(append(b, '\n'))); err != nil {
		exitErr("write export", err)
	}
	fmt.Fprintf(os.Stderr, "exported %d revisions to %s\n", len(exp.Revisions), out)
}

type candidateLine struct {
	Kind       string `json:"kind"`
	RevisionID string `json:"revision_id"`
	RevisionNo int    `json:"revision_no"`
	Reason     string `json:"reason"`
	CharCount  int    `json:"char_count"`
	CreatedAt  string `json:"created_at"`
	Preview    string `json:"preview"`
}

func runRevisionsCandidates(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	doc, err := a.svc.Document(cmd.Context(), ownerID)
	if err != nil {
		exitErr("get document", err)
	}
	cands, err := a.svc.ListRecoveryCandidates(cmd.Context(), ownerID, doc.ID)
	if err != nil {
		exitErr("list candidates", err)
	}
	out := make([]candidateLine, 0, len(cands))
	for _, c := range cands {
		out = append(out, candidateLine{
			Kind:       c.Kind,
			RevisionID: c.Revision.ID,
			RevisionNo: c.Revision.RevisionNo,
			Reason:     c.Revision.Reason,
			CharCount:  c.Revision.CharCount,
			CreatedAt:  c.Revision.CreatedAt.Format(time.RFC3339),
			Preview:    richtext.Preview(c.Revision.Content, previewRunes),
		})
	}
	printJSON(out)
}

func runRevisionsRestore(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	doc, err := a.svc.Document(cmd.Context(), ownerID)
	if err != nil {
		exitErr("get document", err)
	}
	res, err := a.svc.Restore(cmd.Context(), ownerID, doc.ID, args[0])
	if err != nil {
		exitErr("restore", err)
	}
	printJSON(res)
}
