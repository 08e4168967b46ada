package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kirinuki/internal/cli"
	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/httpclient"
	"github.com/hyperjump/kirinuki/internal/ingest"
	"github.com/hyperjump/kirinuki/internal/models"
)

var (
	scopeFlag string
	topKFlag  int
	forceInit bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <artifact.json>...",
	Short: "Chunk, embed, and store document artifacts",
	Long: `Ingests JSON document artifacts into a scope. Artifacts whose content is
unchanged since their last ingestion into the same scope are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var chunkCmd = &cobra.Command{
	Use:   "chunk <artifact.json>",
	Short: "Show the chunks an artifact would produce without storing anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunk,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Run a hybrid query against a scope",
	Long: `Retrieve joins all arguments into one query, so quoting is optional:

  kirinuki retrieve --scope team-a quarterly harvest report`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRetrieve,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <doc_id>",
	Short: "Delete a document's chunks from every store",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document, chunk, and vector counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("kirinuki version %s\n", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func init() {
	ingestCmd.Flags().StringVarP(&scopeFlag, "scope", "s", "", "scope to ingest into (required)")
	_ = ingestCmd.MarkFlagRequired("scope")
	retrieveCmd.Flags().StringVarP(&scopeFlag, "scope", "s", "", "scope to query (required)")
	_ = retrieveCmd.MarkFlagRequired("scope")
	retrieveCmd.Flags().IntVarP(&topKFlag, "top-k", "k", 0, "number of results (default from config)")
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing file")

	rootCmd.AddCommand(ingestCmd, chunkCmd, retrieveCmd, deleteCmd, statusCmd, versionCmd, initCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	format, err := parseFormat()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	statuses := make([]models.IngestStatus, 0, len(args))

	if serverURL != "" {
		for _, path := range args {
			doc, err := readArtifact(path)
			if err != nil {
				statuses = append(statuses, models.IngestStatus{Status: models.StatusFailed, Error: err.Error()})
				continue
			}
			var st models.IngestStatus
			endpoint := apiURL(serverURL, "scopes", scopeFlag, "documents")
			if err := callAPI(ctx, http.MethodPost, endpoint, doc, &st); err != nil {
				st = models.IngestStatus{DocID: doc.DocID, Status: models.StatusFailed, Error: err.Error()}
			}
			statuses = append(statuses, st)
		}
	} else {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		components, err := initializeComponents(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		for _, path := range args {
			statuses = append(statuses, components.Pipeline.IngestFile(ctx, scopeFlag, path))
		}
	}

	if err := cli.WriteStatuses(cmd.OutOrStdout(), statuses, format); err != nil {
		return err
	}
	for _, st := range statuses {
		if st.Status == models.StatusFailed {
			return errors.New("some artifacts failed to ingest")
		}
	}
	return nil
}

func runChunk(cmd *cobra.Command, args []string) error {
	format, err := parseFormat()
	if err != nil {
		return err
	}
	doc, err := readArtifact(args[0])
	if err != nil {
		return err
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	c := &Components{}
	defer c.Close()
	if err := newEmbedder(cmd.Context(), cfg, logger, c); err != nil {
		return err
	}
	chunker, err := newChunker(cfg, logger)
	if err != nil {
		return err
	}
	set, err := ingest.NewPipeline(chunker, c.Batcher, nil, nil, ingest.WithLogger(logger)).ChunkDocument(cmd.Context(), doc)
	if err != nil {
		return err
	}
	return cli.WriteChunkSet(cmd.OutOrStdout(), set, format)
}

// buildQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	format, err := parseFormat()
	if err != nil {
		return err
	}
	query := buildQuery(args)
	if query == "" {
		return errors.New("query cannot be empty")
	}
	ctx := cmd.Context()

	var resp *models.RetrievalResponse
	if serverURL != "" {
		resp = &models.RetrievalResponse{}
		body := map[string]any{"query": query, "top_k": topKFlag}
		if err := callAPI(ctx, http.MethodPost, apiURL(serverURL, "scopes", scopeFlag, "retrieve"), body, resp); err != nil {
			return fmt.Errorf("retrieve failed: %w", err)
		}
	} else {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		components, err := initializeComponents(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		if _, err := components.Pipeline.RebuildSparse(ctx); err != nil {
			return err
		}
		resp, err = components.Engine.Retrieve(ctx, &models.RetrievalQuery{Query: query, ScopeID: scopeFlag, TopK: topKFlag})
		if err != nil {
			return fmt.Errorf("retrieve failed: %w", err)
		}
	}
	return cli.WriteRetrieval(cmd.OutOrStdout(), resp, format)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	docID := args[0]
	if serverURL != "" {
		if err := callAPI(ctx, http.MethodDelete, apiURL(serverURL, "documents", docID), nil, nil); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
	} else {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		components, err := initializeComponents(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		if err := components.Pipeline.DeleteDocument(ctx, docID); err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
	}
	cmd.Printf("deleted %s\n", docID)
	return nil
}

type statusResponse struct {
	Documents     int64 `json:"documents"`
	Chunks        int64 `json:"chunks"`
	Vectors       int   `json:"vectors"`
	SparseIndices *int  `json:"sparse_indices,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	format, err := parseFormat()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	var status statusResponse
	if serverURL != "" {
		if err := callAPI(ctx, http.MethodGet, apiURL(serverURL, "status"), nil, &status); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
	} else {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		components, err := initializeComponents(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		if status.Documents, err = components.Catalog.CountDocuments(ctx); err != nil {
			return err
		}
		if status.Chunks, err = components.Catalog.CountChunks(ctx); err != nil {
			return err
		}
		if status.Vectors, err = components.Vectors.Count(ctx); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if format == cli.OutputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(out, "documents:       %d   # ingested documents\n", status.Documents)
	fmt.Fprintf(out, "chunks:          %d   # chunks in the catalog\n", status.Chunks)
	fmt.Fprintf(out, "vectors:         %d   # points in the vector collection\n", status.Vectors)
	if status.SparseIndices != nil {
		fmt.Fprintf(out, "sparse_indices:  %d   # per-document keyword indices in memory\n", *status.SparseIndices)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	cmd.Printf("wrote %s\n", path)
	return nil
}

func readArtifact(path string) (*models.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc models.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", models.ErrMalformedInput, path, err)
	}
	return &doc, nil
}

// apiURL joins path segments onto the server's /api/v1 prefix, escaping each.
func apiURL(base string, segments ...string) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = url.PathEscape(s)
	}
	return strings.TrimRight(base, "/") + "/api/v1/" + strings.Join(parts, "/")
}

var apiClient = &http.Client{Timeout: 5 * time.Minute}

func callAPI(ctx context.Context, method, endpoint string, in, out any) error {
	return httpclient.Do(ctx, apiClient, "kirinuki", method, endpoint, nil, in, out)
}
