package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"apollorag/config"
	"apollorag/internal/adapter/embedding"
	"apollorag/internal/adapter/store"
	"apollorag/internal/domain"

	"github.com/joho/godotenv"
)

// collections probed by the benchmark and the field embedding each one.
var collections = []struct {
	name  string
	field string
}{
	{domain.CollectionQuestions, domain.FieldQuestion},
	{domain.CollectionSummaries, domain.FieldSummary},
	{domain.CollectionUtterances, domain.FieldText},
	{domain.CollectionPhotoDescriptions, domain.FieldDescription},
}

func main() {
	dir := flag.String("dir", ".", "Directory holding apollo.yaml and the store")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results per collection")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir . -q \"query\"")
		fmt.Println("\nReports, for every text collection:")
		fmt.Println("  1. Embedding and search latency")
		fmt.Println("  2. Distance of the closest matches")
		os.Exit(1)
	}

	_ = godotenv.Load()
	ctx := context.Background()

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewBoltStore(cfg.StorePath(*dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	vectors, err := store.NewBoltVectorStore(st.DB())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening vector store: %v\n", err)
		os.Exit(1)
	}
	embedders := embedding.NewSet(cfg.Embedding)

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Query: \"%s\"\n", *query)

	for _, c := range collections {
		fmt.Println(strings.Repeat("-", 70))

		count, _ := vectors.Count(c.name)
		if count == 0 {
			fmt.Printf("%s: no embeddings, run 'apollo embed' first\n", c.name)
			continue
		}

		embedder, err := embedders.Text(c.field)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: embedder init failed: %v\n", c.name, err)
			continue
		}

		start := time.Now()
		vecs, err := embedder.Embed(ctx, []string{*query})
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: embedding error: %v\n", c.name, err)
			continue
		}
		embedTime := time.Since(start)

		start = time.Now()
		results, err := vectors.KNN(c.name, vecs[0], *topK, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: search error: %v\n", c.name, err)
			continue
		}
		searchTime := time.Since(start)

		fmt.Printf("%s: %d vectors, model %s, embed %s, search %s\n\n",
			c.name, count, embedder.ModelName(), embedTime, searchTime)

		total := 0.0
		for i, r := range results {
			preview := r.Metadata[domain.MetaText]
			if preview == "" {
				preview = r.Metadata[domain.MetaSource]
			}
			if len(preview) > 120 {
				preview = preview[:120] + "..."
			}
			total += r.Distance
			fmt.Printf("%2d. [%s %.3f] %s  %s\n", i+1, rating(r.Distance), r.Distance, r.ID, preview)
		}
		if len(results) > 0 {
			fmt.Printf("\n  Average distance: %.3f\n", total/float64(len(results)))
			fmt.Printf("  Top-1 distance:   %.3f\n", results[0].Distance)
		}
	}
	fmt.Println(strings.Repeat("=", 70))
}

// rating buckets a cosine distance. The semantic cache serves anything
// below 0.1.
func rating(distance float64) string {
	switch {
	case distance < 0.1:
		return "SAME"
	case distance < 0.3:
		return "HIGH"
	case distance < 0.5:
		return "GOOD"
	case distance < 0.7:
		return "OK"
	default:
		return "LOW"
	}
}
