package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatgepeto",
	Short: "Retrieval-augmented knowledge base with chat",
	Long: `ChatGepeto ingests documents and web pages into a searchable knowledge
base: text is chunked, embedded, and indexed for hybrid lexical and
semantic retrieval. Conversations are answered by an LLM grounded in
the retrieved material, with citations back to the source chunks.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".chatgepeto.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
