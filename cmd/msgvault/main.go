package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"msgvault/internal/config"
	"msgvault/internal/db"
	"msgvault/internal/docstore"
	"msgvault/internal/embed"
	"msgvault/internal/graph"
	"msgvault/internal/pipeline"
	"msgvault/internal/source"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "msgvault",
		Short: "Personal message archive",
		Long: `Msgvault indexes your message archive into a searchable store with
identity resolution, hybrid search, and a long-term memory layer.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("msgvault %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newMeCmd())
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newPeopleCmd())
	rootCmd.AddCommand(newChatsCmd())
	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newMemoryCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newFindCmd())
	rootCmd.AddCommand(newBrowseCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// fail reports a fatal error in the selected output mode and exits.
func fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		printJSON(map[string]string{"error": msg})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

// failResolve handles the ambiguous case specially: the candidates are the
// useful part of the error.
func failResolve(query string, err error) {
	var amb *graph.AmbiguousError
	if errors.As(err, &amb) {
		if jsonOutput {
			printJSON(map[string]interface{}{
				"error":      amb.Error(),
				"candidates": amb.Candidates,
			})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %q is ambiguous. Candidates:\n", query)
			for _, c := range amb.Candidates {
				fmt.Fprintf(os.Stderr, "  %s  %s (matched on %s)\n", c.ID, c.DisplayName, c.MatchedOn)
			}
		}
		os.Exit(1)
	}
	fail("%v", err)
}

func openDatabase() *sql.DB {
	database, err := db.Open()
	if err != nil {
		fail("failed to open database: %v", err)
	}
	return database
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize msgvault config and database",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				OK        bool   `json:"ok"`
				Message   string `json:"message,omitempty"`
				ConfigDir string `json:"config_dir,omitempty"`
				DataDir   string `json:"data_dir,omitempty"`
				DBPath    string `json:"db_path,omitempty"`
			}

			configDir, err := config.GetConfigDir()
			if err != nil {
				fail("failed to get config directory: %v", err)
			}
			dataDir, err := config.GetDataDir()
			if err != nil {
				fail("failed to get data directory: %v", err)
			}
			if err := os.MkdirAll(configDir, 0755); err != nil {
				fail("failed to create config directory: %v", err)
			}
			if err := os.MkdirAll(dataDir, 0755); err != nil {
				fail("failed to create data directory: %v", err)
			}
			if err := db.Init(); err != nil {
				fail("failed to initialize database: %v", err)
			}
			dbPath, err := db.GetPath()
			if err != nil {
				fail("failed to get database path: %v", err)
			}

			result := Result{
				OK:        true,
				Message:   "Msgvault initialized successfully",
				ConfigDir: configDir,
				DataDir:   dataDir,
				DBPath:    dbPath,
			}
			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("✓ Config directory: %s\n", result.ConfigDir)
				fmt.Printf("✓ Data directory: %s\n", result.DataDir)
				fmt.Printf("✓ Database: %s\n", result.DBPath)
				fmt.Println("\nMsgvault initialized successfully!")
			}
		},
	}
}

func newMeCmd() *cobra.Command {
	meCmd := &cobra.Command{
		Use:   "me",
		Short: "Configure the archive owner",
		Long:  "Manage the owner identity: display name and the handles that render as you.",
	}

	meSetCmd := &cobra.Command{
		Use:   "set",
		Short: "Set the owner's name and handles",
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("name")
			handles, _ := cmd.Flags().GetStringSlice("handle")
			if name == "" && len(handles) == 0 {
				fail("at least one of --name or --handle must be provided")
			}

			cfg, err := config.Load()
			if err != nil {
				fail("failed to load config: %v", err)
			}
			if name != "" {
				cfg.Owner.DisplayName = name
			}
			cfg.Owner.Handles = append(cfg.Owner.Handles, handles...)
			if err := cfg.Save(); err != nil {
				fail("failed to save config: %v", err)
			}

			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)

			ownerID, err := store.EnsureOwner(context.Background(), cfg.Owner.DisplayName, cfg.Owner.Handles)
			if err != nil {
				fail("failed to bootstrap owner: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true, "owner_id": ownerID})
			} else {
				fmt.Println("✓ Owner updated")
				if name != "" {
					fmt.Printf("  Name: %s\n", name)
				}
				for _, h := range handles {
					fmt.Printf("  Handle: %s\n", h)
				}
			}
		},
	}
	meSetCmd.Flags().String("name", "", "Your display name")
	meSetCmd.Flags().StringSlice("handle", nil, "A handle that belongs to you (repeatable)")

	meShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the owner identity",
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			owner, err := store.GetOwner(ctx)
			if err != nil {
				if errors.Is(err, graph.ErrNotFound) {
					fail("owner not configured. Run 'msgvault me set --name \"Your Name\"' first")
				}
				fail("failed to get owner: %v", err)
			}
			handles, err := store.Handles(ctx, owner.ID)
			if err != nil {
				fail("failed to get handles: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{
					"ok":      true,
					"owner":   owner,
					"handles": handles,
				})
			} else {
				fmt.Printf("Name: %s\n", owner.DisplayName)
				if len(handles) > 0 {
					fmt.Println("\nHandles:")
					for _, h := range handles {
						fmt.Printf("  %s (%s)\n", h.Raw, h.Type)
					}
				} else {
					fmt.Println("\nNo handles configured")
				}
			}
		},
	}

	meCmd.AddCommand(meSetCmd)
	meCmd.AddCommand(meShowCmd)
	return meCmd
}

func newIngestCmd() *cobra.Command {
	ingestCmd := &cobra.Command{
		Use:   "ingest <archive.jsonl>",
		Short: "Ingest an exported message archive",
		Long:  "Chunk, enrich, embed, and index an archive export (one message JSON per line).",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			noEmbed, _ := cmd.Flags().GetBool("no-embed")

			cfg, err := config.Load()
			if err != nil {
				fail("failed to load config: %v", err)
			}
			loc, err := cfg.Location()
			if err != nil {
				fail("%v", err)
			}

			src, err := source.OpenJSONL(args[0])
			if err != nil {
				fail("%v", err)
			}

			database := openDatabase()
			defer database.Close()
			graphStore := graph.NewStore(database)
			docs := docstore.New(database)

			logger, err := zap.NewProduction()
			if err != nil {
				fail("failed to build logger: %v", err)
			}
			defer logger.Sync()

			var embedder pipeline.Embedder
			if !noEmbed {
				apiKey := os.Getenv("OPENAI_API_KEY")
				if apiKey == "" {
					fmt.Fprintln(os.Stderr, "OPENAI_API_KEY not set; indexing keyword-only")
				} else {
					embedder = embed.NewClient(apiKey, cfg.Embedding.Model, cfg.Embedding.Dimensions, logger)
				}
			}

			p := pipeline.New(graphStore, docs, embedder, pipeline.Options{
				MinChunkChars: cfg.Archive.MinChunkChars,
				BatchSize:     cfg.Embedding.BatchSize,
				Location:      loc,
			}, logger)

			start := time.Now()
			report, err := p.Ingest(context.Background(), src)
			if err != nil {
				fail("ingest failed: %v", err)
			}

			if jsonOutput {
				printJSON(report)
			} else {
				fmt.Println("Ingest results:")
				fmt.Printf("  Conversations: %d\n", report.Conversations)
				fmt.Printf("  Messages:      %d\n", report.Messages)
				fmt.Printf("  Chunks built:  %d\n", report.ChunksBuilt)
				fmt.Printf("  Indexed:       %d\n", report.Indexed)
				fmt.Printf("  Embedded:      %d\n", report.Embedded)
				fmt.Printf("  Already known: %d\n", report.ChunksKnown)
				fmt.Printf("  Too short:     %d\n", report.ChunksShort)
				if report.Failed > 0 || report.EmbedFailed > 0 {
					fmt.Printf("  Failed:        %d index, %d embed\n", report.Failed, report.EmbedFailed)
				}
				fmt.Printf("  Duration:      %s\n", time.Since(start).Round(time.Millisecond))
			}
		},
	}
	ingestCmd.Flags().Bool("no-embed", false, "Skip embeddings, index keyword-only")
	return ingestCmd
}

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <keep> <merge>",
		Short: "Merge two people into one",
		Long:  "Moves handles, aliases, relationships, attributes, and chat participations from the second person onto the first, then deletes the second.",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			keep, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			merge, err := store.ResolvePerson(ctx, args[1])
			if err != nil {
				failResolve(args[1], err)
			}

			result, err := store.MergePeople(ctx, keep.ID, merge.ID)
			if err != nil {
				fail("merge failed: %v", err)
			}

			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("✓ Merged %s into %s\n", merge.DisplayName, keep.DisplayName)
				fmt.Printf("  Handles moved:        %d\n", result.HandlesMoved)
				fmt.Printf("  Aliases moved:        %d (skipped %d)\n", result.AliasesMoved, len(result.AliasesSkipped))
				fmt.Printf("  Relationships moved:  %d\n", result.RelationshipsMoved)
				fmt.Printf("  Attributes moved:     %d (skipped %d)\n", result.AttributesMoved, len(result.AttributesSkipped))
				fmt.Printf("  Participations moved: %d\n", result.ParticipationsMoved)
			}
		},
	}
}
