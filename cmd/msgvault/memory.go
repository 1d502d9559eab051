package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"msgvault/internal/config"
	"msgvault/internal/embed"
	"msgvault/internal/graph"
	"msgvault/internal/memstore"
)

// memoryEmbedder returns the embedding capability when an API key is
// present, nil otherwise. Memories work keyword-only without one. The
// embedder is backed by a batcher so concurrent embeds coalesce; the
// returned closer flushes and releases it.
func memoryEmbedder() (memstore.Embedder, func()) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, func() {}
	}
	cfg, err := config.Load()
	if err != nil {
		fail("failed to load config: %v", err)
	}
	client := embed.NewClient(apiKey, cfg.Embedding.Model, cfg.Embedding.Dimensions, zap.NewNop())
	batcher := embed.NewBatcher(client, 0, zap.NewNop())
	return batcher, batcher.Close
}

func newMemoryCmd() *cobra.Command {
	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Save and search long-term memories",
	}

	saveCmd := &cobra.Command{
		Use:   "save <content>",
		Short: "Save a memory",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			people, _ := cmd.Flags().GetStringSlice("person")
			chats, _ := cmd.Flags().GetStringSlice("chat")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			category, _ := cmd.Flags().GetString("category")
			srcRef, _ := cmd.Flags().GetString("source")
			importance, _ := cmd.Flags().GetInt("importance")
			expires, _ := cmd.Flags().GetString("expires")

			database := openDatabase()
			defer database.Close()
			graphStore := graph.NewStore(database)
			embedder, closeEmbedder := memoryEmbedder()
			defer closeEmbedder()
			store := memstore.New(database, embedder)
			ctx := context.Background()

			req := memstore.CreateRequest{
				Content:    args[0],
				Tags:       tags,
				Category:   category,
				Source:     srcRef,
				CreatedBy:  memstore.CreatedByUser,
				Importance: importance,
			}
			for _, q := range people {
				person, err := graphStore.ResolvePerson(ctx, q)
				if err != nil {
					failResolve(q, err)
				}
				req.PersonIDs = append(req.PersonIDs, person.ID)
				req.PersonNames = append(req.PersonNames, person.DisplayName)
			}
			for _, q := range chats {
				chat, err := graphStore.ResolveChat(ctx, q)
				if err != nil {
					failResolve(q, err)
				}
				req.ChatIDs = append(req.ChatIDs, chat.ID)
				req.ChatNames = append(req.ChatNames, chatName(chat))
			}
			if expires != "" {
				t, err := time.Parse("2006-01-02", expires)
				if err != nil {
					fail("invalid --expires date %q (want YYYY-MM-DD)", expires)
				}
				ts := t.Unix()
				req.ExpiresAt = &ts
			}

			m, err := store.CreateMemory(ctx, req)
			if err != nil {
				fail("failed to save memory: %v", err)
			}

			if jsonOutput {
				printJSON(m)
			} else {
				fmt.Printf("✓ Saved memory %s\n", m.ID)
			}
		},
	}
	saveCmd.Flags().StringSlice("person", nil, "Link to a person (repeatable)")
	saveCmd.Flags().StringSlice("chat", nil, "Link to a chat (repeatable)")
	saveCmd.Flags().StringSlice("tag", nil, "Attach a tag (repeatable)")
	saveCmd.Flags().String("category", "", "Category: fact, preference, event, or relationship")
	saveCmd.Flags().String("source", "", "Where this memory came from (e.g. chunk:<id>)")
	saveCmd.Flags().Int("importance", 0, "Importance 1-5 (default 3)")
	saveCmd.Flags().String("expires", "", "Expiry date (YYYY-MM-DD)")

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			personQ, _ := cmd.Flags().GetString("person")
			chatQ, _ := cmd.Flags().GetString("chat")
			category, _ := cmd.Flags().GetString("category")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			includeExpired, _ := cmd.Flags().GetBool("include-expired")
			limit, _ := cmd.Flags().GetInt("limit")

			database := openDatabase()
			defer database.Close()
			graphStore := graph.NewStore(database)
			embedder, closeEmbedder := memoryEmbedder()
			defer closeEmbedder()
			store := memstore.New(database, embedder)
			ctx := context.Background()

			req := memstore.SearchRequest{
				Category:       category,
				Tags:           tags,
				IncludeExpired: includeExpired,
				Limit:          limit,
			}
			if len(args) == 1 {
				req.Query = args[0]
			}
			if personQ != "" {
				person, err := graphStore.ResolvePerson(ctx, personQ)
				if err != nil {
					failResolve(personQ, err)
				}
				req.PersonID = person.ID
			}
			if chatQ != "" {
				chat, err := graphStore.ResolveChat(ctx, chatQ)
				if err != nil {
					failResolve(chatQ, err)
				}
				req.ChatID = chat.ID
			}

			memories, err := store.SearchMemories(ctx, req)
			if err != nil {
				fail("failed to search memories: %v", err)
			}

			if jsonOutput {
				printJSON(memories)
				return
			}
			if len(memories) == 0 {
				fmt.Println("No memories.")
				return
			}
			for _, m := range memories {
				fmt.Printf("%s  [%s/%d] %s\n", m.ID, m.Category, m.Importance, m.Content)
				if len(m.PersonNames) > 0 {
					fmt.Printf("    people: %v\n", m.PersonNames)
				}
				if len(m.Tags) > 0 {
					fmt.Printf("    tags: %v\n", m.Tags)
				}
			}
		},
	}
	searchCmd.Flags().String("person", "", "Only memories linked to this person")
	searchCmd.Flags().String("chat", "", "Only memories linked to this chat")
	searchCmd.Flags().String("category", "", "Only this category")
	searchCmd.Flags().StringSlice("tag", nil, "Only memories carrying this tag (repeatable)")
	searchCmd.Flags().Bool("include-expired", false, "Include expired memories")
	searchCmd.Flags().Int("limit", 20, "Maximum memories to return")

	updateCmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a memory",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			embedder, closeEmbedder := memoryEmbedder()
			defer closeEmbedder()
			store := memstore.New(database, embedder)

			var upd memstore.UpdateRequest
			if cmd.Flags().Changed("content") {
				content, _ := cmd.Flags().GetString("content")
				upd.Content = &content
			}
			if cmd.Flags().Changed("tag") {
				upd.Tags, _ = cmd.Flags().GetStringSlice("tag")
			}
			if cmd.Flags().Changed("category") {
				category, _ := cmd.Flags().GetString("category")
				upd.Category = &category
			}
			if cmd.Flags().Changed("importance") {
				importance, _ := cmd.Flags().GetInt("importance")
				upd.Importance = &importance
			}
			if cmd.Flags().Changed("expires") {
				expires, _ := cmd.Flags().GetString("expires")
				t, err := time.Parse("2006-01-02", expires)
				if err != nil {
					fail("invalid --expires date %q (want YYYY-MM-DD)", expires)
				}
				ts := t.Unix()
				upd.ExpiresAt = &ts
			}
			if clear, _ := cmd.Flags().GetBool("clear-expiry"); clear {
				upd.ClearExpiry = true
			}

			m, err := store.UpdateMemory(context.Background(), args[0], upd)
			if err != nil {
				if errors.Is(err, memstore.ErrNotFound) {
					fail("memory %s not found", args[0])
				}
				fail("failed to update memory: %v", err)
			}

			if jsonOutput {
				printJSON(m)
			} else {
				fmt.Printf("✓ Updated memory %s\n", m.ID)
			}
		},
	}
	updateCmd.Flags().String("content", "", "Replace the content")
	updateCmd.Flags().StringSlice("tag", nil, "Replace the tags (repeatable)")
	updateCmd.Flags().String("category", "", "Change the category")
	updateCmd.Flags().Int("importance", 0, "Change the importance (1-5)")
	updateCmd.Flags().String("expires", "", "Set an expiry date (YYYY-MM-DD)")
	updateCmd.Flags().Bool("clear-expiry", false, "Remove the expiry date")

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a memory",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			store := memstore.New(database, nil)

			if err := store.DeleteMemory(context.Background(), args[0]); err != nil {
				if errors.Is(err, memstore.ErrNotFound) {
					fail("memory %s not found", args[0])
				}
				fail("failed to delete memory: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true})
			} else {
				fmt.Printf("✓ Deleted memory %s\n", args[0])
			}
		},
	}

	memoryCmd.AddCommand(saveCmd, searchCmd, updateCmd, rmCmd)
	return memoryCmd
}
