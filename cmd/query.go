package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/theomilll/atv-tinoco/internal/llm"
	"github.com/theomilll/atv-tinoco/internal/rag"
)

var (
	queryOwner   string
	queryTopK    int
	queryVerbose bool
)

var queryCmd = &cobra.Command{
	Use:   "query TEXT",
	Short: "Ask a one-shot question against the knowledge base",
	Long: `Retrieves the most relevant chunks for the question, grounds the LLM in
them, and prints the answer with its sources. Nothing is stored.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.close()

		provider, err := s.provider()
		if err != nil {
			return fmt.Errorf("creating LLM provider: %w", err)
		}

		ctx := cmd.Context()
		question := args[0]

		results, err := s.retriever.Retrieve(ctx, question, queryOwner, queryTopK)
		if err != nil {
			return fmt.Errorf("retrieving: %w", err)
		}

		resp, err := provider.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.Message{
				{Role: llm.RoleSystem, Content: "Answer the question using the material below when it is relevant.\n\n" + rag.BuildContext(results)},
				{Role: llm.RoleUser, Content: question},
			},
			Temperature: 0.7,
			MaxTokens:   500,
		})
		if err != nil {
			return fmt.Errorf("generating answer: %w", err)
		}

		fmt.Println(resp.Content)

		if len(results) > 0 {
			fmt.Println("\nSources:")
			for i, r := range results {
				fmt.Printf("  %d. %s (score %.4f)\n", i+1, r.DocumentTitle, r.Score)
				if queryVerbose {
					fmt.Printf("     %s\n", rag.Truncate(r.Chunk.Text, 120))
				}
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryOwner, "owner", "default", "owner scope to search")
	queryCmd.Flags().IntVar(&queryTopK, "top-k", 5, "number of chunks to retrieve")
	queryCmd.Flags().BoolVar(&queryVerbose, "show-chunks", false, "print the retrieved chunk text")
	rootCmd.AddCommand(queryCmd)
}
