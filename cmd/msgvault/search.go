package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"msgvault/internal/config"
	"msgvault/internal/docstore"
	"msgvault/internal/embed"
	"msgvault/internal/search"
)

// addFilterFlags registers the hard-constraint flags shared by every
// search verb.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "Only chunks whose primary sender is this name")
	cmd.Flags().String("chat", "", "Only chunks from this conversation id")
	cmd.Flags().StringSlice("with", nil, "Only chunks whose participants include this name (repeatable)")
	cmd.Flags().Bool("group", false, "Only group chats")
	cmd.Flags().Bool("dm", false, "Only direct chats")
	cmd.Flags().Bool("images", false, "Only chunks with images")
	cmd.Flags().String("after", "", "Only chunks on or after this date (YYYY-MM-DD)")
	cmd.Flags().String("before", "", "Only chunks on or before this date (YYYY-MM-DD)")
	cmd.Flags().String("weekday", "", "Only chunks on this weekday (e.g. friday)")
	cmd.Flags().Int("year", 0, "Only chunks from this year")
	cmd.Flags().Int("month", 0, "Only chunks from this month (1-12)")
	cmd.Flags().Int("hour-from", -1, "Only chunks starting at or after this hour (0-23)")
	cmd.Flags().Int("hour-to", -1, "Only chunks starting at or before this hour (0-23)")
	cmd.Flags().StringSlice("not-from", nil, "Exclude chunks from this sender (repeatable)")
	cmd.Flags().StringSlice("not-chat", nil, "Exclude this conversation id (repeatable)")
	cmd.Flags().StringSlice("no-dms-with", nil, "Exclude direct chats with this person (repeatable)")
}

func buildFilters(cmd *cobra.Command, loc *time.Location) docstore.Filters {
	var f docstore.Filters
	f.Sender, _ = cmd.Flags().GetString("from")
	f.ConversationID, _ = cmd.Flags().GetString("chat")
	f.Participants, _ = cmd.Flags().GetStringSlice("with")
	f.Weekday, _ = cmd.Flags().GetString("weekday")
	f.Weekday = strings.ToLower(f.Weekday)
	f.Year, _ = cmd.Flags().GetInt("year")
	f.Month, _ = cmd.Flags().GetInt("month")
	f.ExcludeSenders, _ = cmd.Flags().GetStringSlice("not-from")
	f.ExcludeConversations, _ = cmd.Flags().GetStringSlice("not-chat")
	f.ExcludeDMsWith, _ = cmd.Flags().GetStringSlice("no-dms-with")

	if group, _ := cmd.Flags().GetBool("group"); group {
		t := true
		f.IsGroup = &t
	}
	if dm, _ := cmd.Flags().GetBool("dm"); dm {
		v := false
		f.IsGroup = &v
	}
	if images, _ := cmd.Flags().GetBool("images"); images {
		t := true
		f.HasImage = &t
	}
	if from, _ := cmd.Flags().GetInt("hour-from"); from >= 0 {
		f.HourFrom = &from
	}
	if to, _ := cmd.Flags().GetInt("hour-to"); to >= 0 {
		f.HourTo = &to
	}

	if after, _ := cmd.Flags().GetString("after"); after != "" {
		t, err := time.ParseInLocation("2006-01-02", after, loc)
		if err != nil {
			fail("invalid --after date %q (want YYYY-MM-DD)", after)
		}
		f.After = t.Unix()
	}
	if before, _ := cmd.Flags().GetString("before"); before != "" {
		t, err := time.ParseInLocation("2006-01-02", before, loc)
		if err != nil {
			fail("invalid --before date %q (want YYYY-MM-DD)", before)
		}
		// Inclusive of the whole named day.
		f.Before = t.Add(24*time.Hour - time.Second).Unix()
	}
	return f
}

func openEngine(semantic bool) (*search.Engine, func()) {
	cfg, err := config.Load()
	if err != nil {
		fail("failed to load config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		fail("%v", err)
	}

	database := openDatabase()
	docs := docstore.New(database)

	var embedder search.Embedder
	teardown := func() { database.Close() }
	if semantic {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			fail("--semantic requires OPENAI_API_KEY")
		}
		client := embed.NewClient(apiKey, cfg.Embedding.Model, cfg.Embedding.Dimensions, zap.NewNop())
		batcher := embed.NewBatcher(client, 0, zap.NewNop())
		embedder = batcher
		teardown = func() {
			batcher.Close()
			database.Close()
		}
	}

	return search.New(docs, embedder, loc), teardown
}

func archiveLocation() *time.Location {
	cfg, err := config.Load()
	if err != nil {
		fail("failed to load config: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		fail("%v", err)
	}
	return loc
}

func printResults(results []search.Result) {
	if len(results) == 0 {
		fmt.Println("No results.")
		return
	}
	for _, r := range results {
		fmt.Printf("%s - %s (%s)\n", r.ChatLabel, r.Timestamp, r.RelativeTime)
		fmt.Printf("  %s\n", strings.ReplaceAll(r.Text, "\n", "\n  "))
		fmt.Printf("  ref: %s\n\n", r.Ref)
	}
}

func newSearchCmd() *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the archive",
		Long: `Tiered keyword search over indexed chunks. With --semantic the query is
embedded and results combine the keyword and vector signals.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			semantic, _ := cmd.Flags().GetBool("semantic")
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			loc := archiveLocation()
			engine, closeDB := openEngine(semantic)
			defer closeDB()

			query := strings.Join(args, " ")
			filters := buildFilters(cmd, loc)
			ctx := context.Background()

			if semantic {
				results, err := engine.Hybrid(ctx, search.HybridRequest{
					Query:   query,
					Filters: filters,
					Limit:   limit,
				})
				if err != nil {
					fail("search failed: %v", err)
				}
				if jsonOutput {
					printJSON(results)
				} else {
					printResults(results)
				}
				return
			}

			page, err := engine.Instant(ctx, search.InstantRequest{
				Query:   query,
				Filters: filters,
				Limit:   limit,
				Offset:  offset,
			})
			if err != nil {
				fail("search failed: %v", err)
			}
			if jsonOutput {
				printJSON(page)
			} else {
				printResults(page.Results)
				if page.Total > 0 {
					fmt.Printf("%d of %d results", len(page.Results), page.Total)
					if page.HasMore {
						fmt.Printf(" (more with --offset %d)", page.Offset+len(page.Results))
					}
					fmt.Println()
				}
			}
		},
	}
	searchCmd.Flags().Bool("semantic", false, "Combine keyword and vector signals (needs OPENAI_API_KEY)")
	searchCmd.Flags().Int("limit", 10, "Maximum results")
	searchCmd.Flags().Int("offset", 0, "Offset into the result list")
	addFilterFlags(searchCmd)
	return searchCmd
}

func newFindCmd() *cobra.Command {
	findCmd := &cobra.Command{
		Use:   "find <phrase>",
		Short: "Find exact wording",
		Long:  "Phrase search; falls back to all-terms matching when the exact phrase appears nowhere.",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sort, _ := cmd.Flags().GetString("sort")
			limit, _ := cmd.Flags().GetInt("limit")

			loc := archiveLocation()
			engine, closeDB := openEngine(false)
			defer closeDB()

			results, err := engine.Exact(context.Background(), search.ExactRequest{
				Query:   strings.Join(args, " "),
				Filters: buildFilters(cmd, loc),
				Sort:    search.SortMode(sort),
				Limit:   limit,
			})
			if err != nil {
				fail("find failed: %v", err)
			}
			if jsonOutput {
				printJSON(results)
			} else {
				printResults(results)
			}
		},
	}
	findCmd.Flags().String("sort", "newest", "Sort order: relevance, newest, or oldest")
	findCmd.Flags().Int("limit", 10, "Maximum results")
	addFilterFlags(findCmd)
	return findCmd
}

func newBrowseCmd() *cobra.Command {
	browseCmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse the archive newest-first",
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			loc := archiveLocation()
			engine, closeDB := openEngine(false)
			defer closeDB()

			page, err := engine.Browse(context.Background(), buildFilters(cmd, loc), limit, offset)
			if err != nil {
				fail("browse failed: %v", err)
			}
			if jsonOutput {
				printJSON(page)
			} else {
				printResults(page.Results)
				if page.Total > 0 {
					fmt.Printf("%d of %d chunks", len(page.Results), page.Total)
					if page.HasMore {
						fmt.Printf(" (more with --offset %d)", page.Offset+len(page.Results))
					}
					fmt.Println()
				}
			}
		},
	}
	browseCmd.Flags().Int("limit", 10, "Maximum results")
	browseCmd.Flags().Int("offset", 0, "Offset into the archive")
	addFilterFlags(browseCmd)
	return browseCmd
}
