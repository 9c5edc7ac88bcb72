package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beaconai/beacon/internal/app"
	"github.com/beaconai/beacon/internal/config"
	"github.com/beaconai/beacon/internal/knowledge"
	"github.com/beaconai/beacon/internal/log"
)

// maxChunkRunes bounds one indexed chunk. Paragraphs are merged up to this
// size so embeddings stay focused on a single topic.
const maxChunkRunes = 1200

var ingestSource string

var ingestCmd = &cobra.Command{
	Use:   "ingest [files or directories]",
	Short: "Index documents into the knowledge base",
	Long: `Ingest reads text and markdown files, splits them into chunks, embeds
each chunk and stores it in the configured vector index.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label stored with every chunk (default: file path)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, paths []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Retrieval.Enabled {
		return fmt.Errorf("retrieval is disabled in configuration")
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.Log.Level), JSON: cfg.Log.JSON})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	files, err := collectFiles(paths)
	if err != nil {
		return err
	}

	var total int
	for _, file := range files {
		n, err := ingestFile(ctx, a.Retriever, file)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", file, err)
		}
		logger.Info("ingested file", "path", file, "chunks", n)
		total += n
	}

	logger.Info("ingestion complete", "files", len(files), "chunks", total)
	return nil
}

// collectFiles expands directories into their .txt and .md files.
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".txt", ".md":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no ingestable files found")
	}
	return files, nil
}

func ingestFile(ctx context.Context, r *knowledge.Retriever, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	source := ingestSource
	if source == "" {
		source = path
	}

	chunks := splitChunks(string(raw))
	for i, chunk := range chunks {
		doc := knowledge.Document{
			ID:     fmt.Sprintf("%s#%d", path, i),
			Text:   chunk,
			Source: source,
			Metadata: map[string]string{
				"path":  path,
				"chunk": fmt.Sprintf("%d", i),
			},
		}
		if err := r.Ingest(ctx, doc); err != nil {
			return i, err
		}
	}
	return len(chunks), nil
}

// splitChunks groups paragraphs into chunks of at most maxChunkRunes.
// A single oversized paragraph becomes its own chunk rather than being cut
// mid-sentence.
func splitChunks(text string) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
		currentLen = 0
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n := len([]rune(p))
		if currentLen > 0 && currentLen+n > maxChunkRunes {
			flush()
		}
		current.WriteString(p)
		current.WriteString("\n\n")
		currentLen += n
	}
	flush()
	return chunks
}
