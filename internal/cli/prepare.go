package cli

import (
	"fmt"

	"apollorag/internal/usecase"

	"github.com/spf13/cobra"
)

var (
	prepOverwrite bool
	prepBatchSize int
	prepWorkers   int
	pipelineForce bool
)

var loadCmd = &cobra.Command{
	Use:   "load [utterances|toc|photographs]...",
	Short: "Load transcript row files into the store",
	Long: `Load the utterance, table-of-contents and photograph row files matched
by the data patterns in the config. With no arguments every kind is loaded.

Examples:
  apollo load
  apollo load toc
  apollo load photographs --overwrite`,
	ValidArgs: []string{"utterances", "toc", "photographs"},
	Args:      cobra.OnlyValidArgs,
	RunE:      runLoad,
}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Group utterances into table-of-contents windows",
	RunE:  runGroup,
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Generate a summary for every grouped segment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnrich(cmd, usecase.Summarization, "Summarizing")
	},
}

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Generate questions answered by every grouped segment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEnrich(cmd, usecase.QuestionGeneration, "Generating questions")
	},
}

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Embed questions, summaries, utterances and photographs",
	RunE:  runEmbed,
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run every preparation stage in order",
	Long: `Load utterances, load the table of contents, group, summarize,
generate questions, load photographs and embed everything.

The run is skipped when utterances were already loaded unless --force is set.`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(loadCmd, groupCmd, summarizeCmd, questionsCmd, embedCmd, pipelineCmd)

	loadCmd.Flags().BoolVar(&prepOverwrite, "overwrite", false, "replace photographs that already exist")
	groupCmd.Flags().BoolVar(&prepOverwrite, "overwrite", false, "regroup segments that already hold utterances")
	embedCmd.Flags().BoolVar(&prepOverwrite, "overwrite", false, "re-embed documents that already have vectors")
	embedCmd.Flags().IntVar(&prepBatchSize, "batch-size", 0, "documents per embedding request (default from config)")

	for _, c := range []*cobra.Command{summarizeCmd, questionsCmd} {
		c.Flags().BoolVar(&prepOverwrite, "overwrite", false, "regenerate segments that are already enriched")
		c.Flags().IntVar(&prepBatchSize, "batch-size", 0, "segments per batch (default from config)")
		c.Flags().IntVar(&prepWorkers, "workers", 0, "concurrent generator calls per batch (default from config)")
	}

	pipelineCmd.Flags().BoolVar(&pipelineForce, "force", false, "run even when utterances are already loaded")
	pipelineCmd.Flags().BoolVar(&prepOverwrite, "overwrite", false, "redo every stage for existing records")
	pipelineCmd.Flags().IntVar(&prepWorkers, "workers", 0, "concurrent generator calls per batch (default from config)")
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	kinds := args
	if len(kinds) == 0 {
		kinds = []string{"utterances", "toc", "photographs"}
	}

	loader := a.loader()
	for _, kind := range kinds {
		var res *usecase.LoadResult
		switch kind {
		case "utterances":
			res, err = loader.LoadUtterances(ctx)
		case "toc":
			res, err = loader.LoadTOC(ctx)
		case "photographs":
			res, err = loader.LoadPhotographs(ctx, prepOverwrite)
		}
		if err != nil {
			return fmt.Errorf("loading %s failed: %w", kind, err)
		}
		printLoad(kind, res)
	}
	return nil
}

func runGroup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.grouper().Group(ctx, prepOverwrite)
	if err != nil {
		return fmt.Errorf("grouping failed: %w", err)
	}
	printGroup(res)
	return nil
}

func runEnrich(cmd *cobra.Command, v usecase.Variant, label string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	enricher, err := a.enricher(ctx)
	if err != nil {
		return err
	}

	res, err := enricher.Run(ctx, v, enrichOptions(label))
	if err != nil {
		return fmt.Errorf("%s failed: %w", v.Name, err)
	}
	printEnrich(v.Name, res)
	return nil
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.indexer().IndexAll(ctx, indexOptions())
	printIndex(results)
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	return nil
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	enricher, err := a.enricher(ctx)
	if err != nil {
		return err
	}

	p := usecase.NewPipelineUseCase(a.store, a.loader(), a.grouper(), enricher, a.indexer(), logger)
	res, err := p.Run(ctx, usecase.PipelineOptions{
		Force:     pipelineForce,
		Overwrite: prepOverwrite,
		Enrich:    enrichOptions("Enriching"),
		Index:     indexOptions(),
	})
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	if res.Skipped {
		fmt.Println("Utterances already loaded, nothing to do. Use --force to run again.")
		return nil
	}

	printLoad("utterances", res.Utterances)
	printLoad("toc", res.TOC)
	printGroup(res.Group)
	printEnrich(usecase.Summarization.Name, res.Summaries)
	printEnrich(usecase.QuestionGeneration.Name, res.Questions)
	printLoad("photographs", res.Photographs)
	printIndex(res.Index)
	return nil
}

func enrichOptions(label string) usecase.EnrichOptions {
	cfg := GetConfig()
	opts := usecase.EnrichOptions{
		Overwrite: prepOverwrite,
		BatchSize: cfg.Enrich.BatchSize,
		Workers:   cfg.Enrich.Workers,
	}
	if prepBatchSize > 0 {
		opts.BatchSize = prepBatchSize
	}
	if prepWorkers > 0 {
		opts.Workers = prepWorkers
	}

	opts.Progress = newProgress(label).update
	return opts
}

func indexOptions() usecase.IndexOptions {
	opts := usecase.IndexOptions{
		Overwrite: prepOverwrite,
		BatchSize: GetConfig().Embedding.BatchSize,
		Progress:  collectionProgress(),
	}
	if prepBatchSize > 0 {
		opts.BatchSize = prepBatchSize
	}
	return opts
}

func printLoad(kind string, res *usecase.LoadResult) {
	if res == nil {
		return
	}
	fmt.Printf("\nLoaded %s:\n", kind)
	fmt.Printf("  Files:    %d\n", res.Files)
	fmt.Printf("  Saved:    %d\n", res.Saved)
	if res.Skipped > 0 {
		fmt.Printf("  Skipped:  %d (already stored)\n", res.Skipped)
	}
	if n := res.Rejected(); n > 0 {
		fmt.Printf("  Rejected: %d (malformed rows)\n", n)
	}
}

func printGroup(res *usecase.GroupResult) {
	if res == nil {
		return
	}
	fmt.Printf("\nGrouping complete:\n")
	fmt.Printf("  Segments: %d\n", res.Segments)
	fmt.Printf("  Grouped:  %d\n", res.Grouped)
	fmt.Printf("  Empty:    %d\n", res.Empty)
	fmt.Printf("  Skipped:  %d (already grouped)\n", res.Skipped)
	fmt.Printf("  Noise:    %d repeated texts filtered\n", res.Noise)
}

func printEnrich(name string, res *usecase.EnrichResult) {
	if res == nil {
		return
	}
	fmt.Printf("\n%s complete:\n", name)
	fmt.Printf("  Targeted: %d\n", res.Targeted)
	fmt.Printf("  Enriched: %d\n", res.Enriched)
	fmt.Printf("  Failed:   %d\n", res.Failed)
	fmt.Printf("  Batches:  %d\n", res.Batches)
}

func printIndex(results []*usecase.IndexResult) {
	if len(results) == 0 {
		return
	}
	fmt.Printf("\nEmbedding complete:\n")
	for _, r := range results {
		fmt.Printf("  %-20s %d embedded, %d skipped of %d\n", r.Collection, r.Embedded, r.Skipped, r.Docs)
	}

	var warnings []string
	for _, r := range results {
		warnings = append(warnings, r.Errors...)
	}
	if len(warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
}
