package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"apollorag/internal/usecase"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	askQuery   string
	askSummary bool
	askRag     bool
	askCache   bool
	askJSON    bool

	imagePath        string
	imageDescription string
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF"))

	answerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFF00"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the mission transcripts",
	Long: `Search the generated questions (or the segment summaries with --summary)
for the closest matches and optionally generate an answer from them.

Examples:
  apollo ask -q "When did Eagle land?"
  apollo ask -q "What went wrong during descent?" --summary --rag --cache`,
	RunE: runAsk,
}

var utteranceCmd = &cobra.Command{
	Use:   "utterance",
	Short: "Search individual utterances",
	RunE:  runUtterance,
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Search photographs by image or by description",
	Long: `Search photographs either by the similarity of an image file or by
the similarity of their description to a text.

Examples:
  apollo image --path ./earthrise.jpg
  apollo image --description "footprint on the lunar surface"`,
	RunE: runImage,
}

func init() {
	rootCmd.AddCommand(askCmd, utteranceCmd, imageCmd)

	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "question (required)")
	askCmd.Flags().BoolVar(&askSummary, "summary", false, "search segment summaries instead of questions")
	askCmd.Flags().BoolVar(&askRag, "rag", false, "generate an answer from the matches")
	askCmd.Flags().BoolVar(&askCache, "cache", false, "use the semantic cache")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.MarkFlagRequired("query")

	utteranceCmd.Flags().StringVarP(&askQuery, "query", "q", "", "text to search for (required)")
	utteranceCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	utteranceCmd.MarkFlagRequired("query")

	imageCmd.Flags().StringVar(&imagePath, "path", "", "image file to compare against")
	imageCmd.Flags().StringVar(&imageDescription, "description", "", "text to compare with photograph descriptions")
	imageCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	imageCmd.MarkFlagsOneRequired("path", "description")
	imageCmd.MarkFlagsMutuallyExclusive("path", "description")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	answers, _, err := a.answerer(ctx)
	if err != nil {
		return err
	}

	ask := answers.AskQuestion
	if askSummary {
		ask = answers.AskSummary
	}
	ans, err := ask(ctx, usecase.AnswerRequest{
		Query:               askQuery,
		EnableSemanticCache: askCache,
		EnableRag:           askRag,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if askJSON {
		return printJSON(ans)
	}

	fmt.Println(titleStyle.Render(ans.Query))
	if ans.RagAnswer != "" {
		fmt.Println(answerStyle.Render(ans.RagAnswer))
	}
	if ans.Cached {
		fmt.Println(dimStyle.Render(fmt.Sprintf("cached answer for %q (distance %.4f)", ans.CachedQuery, ans.CachedScore)))
		return nil
	}

	if len(ans.Matches) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, m := range ans.Matches {
		heading := m.Question
		if askSummary {
			heading = m.Summary
		}
		fmt.Printf("\n--- [%d] %s %s ---\n", i+1, m.SegmentID, scoreStyle.Render(fmt.Sprintf("(distance: %.4f)", m.Score)))
		fmt.Println(heading)
		fmt.Println(dimStyle.Render(truncate(usecase.FormatUtterances(m.Utterances), 800)))
	}
	fmt.Println(dimStyle.Render(fmt.Sprintf("\nembedding %s, search %s, rag %s",
		ans.Timings.Embedding, ans.Timings.Search, ans.Timings.Rag)))
	return nil
}

func runUtterance(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	answers, _, err := a.answerer(ctx)
	if err != nil {
		return err
	}

	res, err := answers.SearchUtterances(ctx, askQuery)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if askJSON {
		return printJSON(res)
	}

	if len(res.Matches) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d utterances for: %s\n\n", len(res.Matches), res.Query)
	for i, m := range res.Matches {
		fmt.Printf("[%d] %s %s\n    %s\n", i+1, m.ID, scoreStyle.Render(fmt.Sprintf("(distance: %.4f)", m.Score)), m.Text)
	}
	return nil
}

func runImage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	answers, _, err := a.answerer(ctx)
	if err != nil {
		return err
	}

	var res *usecase.PhotoSearch
	if imagePath != "" {
		res, err = answers.SearchByImage(ctx, usecase.ImageQuery{Path: imagePath})
	} else {
		res, err = answers.SearchByDescription(ctx, imageDescription)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if askJSON {
		return printJSON(res)
	}

	if len(res.Matches) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, m := range res.Matches {
		fmt.Printf("[%d] %s %s\n    %s\n", i+1, m.ImagePath, scoreStyle.Render(fmt.Sprintf("(distance: %.4f)", m.Score)), m.Description)
	}
	return nil
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := strings.LastIndexByte(s[:n], '\n')
	if cut <= 0 {
		cut = n
	}
	return s[:cut] + "\n..."
}
