package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bainianlaoyao/stream-note/internal/richtext"
)

func init() {
	docCmd := &cobra.Command{
		Use:   "doc",
		Short: "Read and write the owner's note",
	}

	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Print the note",
		Run:   runDocGet,
	}
	getCmd.Flags().Bool("text", false, "Print plain text instead of JSON")

	saveCmd := &cobra.Command{
		Use:   "save [text]",
		Short: "Replace the note content",
		Long: "Replace the note content. Content is a positional arg or stdin, read as plain text " +
			"(one paragraph per line) or, with --json, as a rich-text document.",
		Run: runDocSave,
	}
	saveCmd.Flags().Bool("json", false, "Read a rich-text JSON document")
	saveCmd.Flags().StringP("file", "F", "", "Read content from a file instead of stdin")

	docCmd.AddCommand(getCmd, saveCmd)
	RootCmd.AddCommand(docCmd)
}

func runDocGet(cmd *cobra.Command, args []string) {
	asText, _ := cmd.Flags().GetBool("text")

	a := mustOpenApp()
	defer a.Close()

	doc, err := a.svc.Document(cmd.Context(), ownerID)
	if err != nil {
		exitErr("get document", err)
	}
	if asText {
		fmt.Println(richtext.PlainText(doc.Content))
		return
	}
	printJSON(doc)
}

func runDocSave(cmd *cobra.Command, args []string) {
	asJSON, _ := cmd.Flags().GetBool("json")
	file, _ := cmd.Flags().GetString("file")

	raw, err := readInput(args, file)
	if err != nil {
		exitErr("read content", err)
	}

	var content richtext.Doc
	if asJSON {
		content, err = richtext.Decode([]byte(raw))
		if err != nil {
			exitErr("parse document", err)
		}
	} else {
		content = richtext.FromText(raw)
	}

	a := mustOpenApp()
	defer a.Close()

	res, err := a.svc.SaveDocument(cmd.Context(), ownerID, content)
	if err != nil {
		exitErr("save document", err)
	}
	printJSON(res)
}

// readInput returns the positional args joined, else the file, else piped
// stdin.
func readInput(args []string, file string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if file != "" {
		b, err := os.ReadFile(file)
		return string(b), err
	}
	stat, _ := os.Stdin.Stat()
	if stat != nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	return "", fmt.Errorf("content is required (positional arg, --file or stdin)")
}
