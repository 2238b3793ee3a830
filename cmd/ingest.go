package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/theomilll/atv-tinoco/internal/store"
)

var (
	ingestOwner string
	ingestTitle string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE|URL",
	Short: "Ingest a document into the knowledge base",
	Long: `Ingests a local text, HTML, or markdown file, or fetches a web page by
URL, and runs it through chunking and embedding so it becomes
searchable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := buildStack()
		if err != nil {
			return err
		}
		defer s.close()

		source := args[0]
		ctx := cmd.Context()

		if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
			doc, err := s.processor.IngestURL(ctx, source, ingestOwner, ingestTitle)
			if err != nil {
				return err
			}
			fmt.Printf("ingested %s (%s)\n", doc.Title, doc.ID)
			return nil
		}

		path, err := filepath.Abs(source)
		if err != nil {
			return err
		}
		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		mediaType := mime.TypeByExtension(filepath.Ext(path))
		if mediaType == "" {
			mediaType = "text/plain"
		}
		if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
			mediaType = mt
		}

		title := ingestTitle
		if title == "" {
			title = filepath.Base(path)
		}

		doc := &store.Document{
			OwnerID:       ingestOwner,
			Title:         title,
			SourceLocator: path,
			MediaType:     mediaType,
			ByteSize:      info.Size(),
		}
		if err := s.store.CreateDocument(ctx, doc); err != nil {
			return err
		}
		if err := s.processor.Process(ctx, doc.ID); err != nil {
			return fmt.Errorf("processing %s: %w", path, err)
		}

		n, err := s.store.CountChunks(ctx, doc.ID)
		if err != nil {
			return err
		}
		fmt.Printf("ingested %s (%s): %d chunks\n", doc.Title, doc.ID, n)
		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOwner, "owner", "default", "owner scope for the document")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (defaults to filename or page title)")
	rootCmd.AddCommand(ingestCmd)
}
