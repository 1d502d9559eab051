package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"msgvault/internal/docstore"
	"msgvault/internal/graph"
	"msgvault/internal/memstore"
)

func newResolveCmd() *cobra.Command {
	resolveCmd := &cobra.Command{
		Use:   "resolve <query>",
		Short: "Resolve a handle or name to a person",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			chat, _ := cmd.Flags().GetBool("chat")
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			if chat {
				c, err := store.ResolveChat(ctx, args[0])
				if err != nil {
					failResolve(args[0], err)
				}
				if jsonOutput {
					printJSON(c)
				} else {
					fmt.Printf("%s  %s\n", c.ID, chatName(c))
				}
				return
			}

			person, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			if jsonOutput {
				printJSON(person)
			} else {
				fmt.Printf("%s  %s\n", person.ID, person.DisplayName)
			}
		},
	}
	resolveCmd.Flags().Bool("chat", false, "Resolve a chat instead of a person")
	return resolveCmd
}

func newPeopleCmd() *cobra.Command {
	peopleCmd := &cobra.Command{
		Use:   "people",
		Short: "Inspect and edit the people graph",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known people",
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)

			people, err := store.ListPeople(context.Background(), limit, offset)
			if err != nil {
				fail("failed to list people: %v", err)
			}
			if jsonOutput {
				printJSON(people)
			} else {
				for _, p := range people {
					marker := " "
					if p.IsOwner {
						marker = "*"
					}
					fmt.Printf("%s %s  %s\n", marker, p.ID, p.DisplayName)
				}
			}
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum people to return")
	listCmd.Flags().Int("offset", 0, "Offset into the list")

	showCmd := &cobra.Command{
		Use:   "show <query>",
		Short: "Show a person with their handles, relationships, memories, and activity",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			person, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			printPersonContext(ctx, database, store, person)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <query>",
		Short: "Rename a person or edit their notes",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("name")
			notes, _ := cmd.Flags().GetString("notes")
			if name == "" && !cmd.Flags().Changed("notes") {
				fail("at least one of --name or --notes must be provided")
			}

			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			person, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}

			var upd graph.PersonUpdate
			if name != "" {
				upd.DisplayName = &name
			}
			if cmd.Flags().Changed("notes") {
				upd.Notes = &notes
			}
			if err := store.UpdatePerson(ctx, person.ID, upd); err != nil {
				fail("failed to update person: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true, "id": person.ID})
			} else {
				fmt.Printf("✓ Updated %s\n", person.ID)
			}
		},
	}
	setCmd.Flags().String("name", "", "New display name")
	setCmd.Flags().String("notes", "", "Notes to attach")

	aliasCmd := &cobra.Command{
		Use:   "alias <query> <alias>",
		Short: "Add an alias to a person",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			primary, _ := cmd.Flags().GetBool("primary")
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			person, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			if err := store.AddAlias(ctx, person.ID, args[1], primary); err != nil {
				fail("failed to add alias: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true, "id": person.ID, "alias": args[1]})
			} else {
				fmt.Printf("✓ %s is now also known as %q\n", person.DisplayName, args[1])
			}
		},
	}
	aliasCmd.Flags().Bool("primary", false, "Make this the primary alias")

	linkCmd := &cobra.Command{
		Use:   "link <from> <type> <to>",
		Short: "Record a relationship between two people",
		Long:  "Records the relationship and its mirror (parent/child, spouse/spouse, ...).",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			description, _ := cmd.Flags().GetString("description")
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			from, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			to, err := store.ResolvePerson(ctx, args[2])
			if err != nil {
				failResolve(args[2], err)
			}
			if err := store.LinkRelationship(ctx, from.ID, to.ID, args[1], description); err != nil {
				fail("failed to link: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true, "from": from.ID, "to": to.ID, "type": args[1]})
			} else {
				fmt.Printf("✓ %s is %s of %s\n", from.DisplayName, args[1], to.DisplayName)
			}
		},
	}
	linkCmd.Flags().String("description", "", "Free-form note on the relationship")

	unlinkCmd := &cobra.Command{
		Use:   "unlink <from> <type> <to>",
		Short: "Remove a relationship and its mirror",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			from, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			to, err := store.ResolvePerson(ctx, args[2])
			if err != nil {
				failResolve(args[2], err)
			}
			if err := store.UnlinkRelationship(ctx, from.ID, to.ID, args[1]); err != nil {
				fail("failed to unlink: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true})
			} else {
				fmt.Println("✓ Relationship removed")
			}
		},
	}

	attrCmd := &cobra.Command{
		Use:   "attr <query> <key> <value>",
		Short: "Set an attribute on a person",
		Args:  cobra.ExactArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			person, err := store.ResolvePerson(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			if err := store.SetAttribute(ctx, person.ID, args[1], args[2]); err != nil {
				fail("failed to set attribute: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true})
			} else {
				fmt.Printf("✓ %s: %s = %s\n", person.DisplayName, args[1], args[2])
			}
		},
	}

	peopleCmd.AddCommand(listCmd, showCmd, setCmd, aliasCmd, linkCmd, unlinkCmd, attrCmd)
	return peopleCmd
}

func newChatsCmd() *cobra.Command {
	chatsCmd := &cobra.Command{
		Use:   "chats",
		Short: "Inspect and edit known chats",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List known chats",
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)

			chats, err := store.ListChats(context.Background(), limit, offset)
			if err != nil {
				fail("failed to list chats: %v", err)
			}
			if jsonOutput {
				printJSON(chats)
			} else {
				for _, c := range chats {
					kind := "dm"
					if c.IsGroupChat {
						kind = "group"
					}
					fmt.Printf("%s  %-5s %s\n", c.ID, kind, chatName(&c))
				}
			}
		},
	}
	listCmd.Flags().Int("limit", 50, "Maximum chats to return")
	listCmd.Flags().Int("offset", 0, "Offset into the list")

	showCmd := &cobra.Command{
		Use:   "show <query>",
		Short: "Show a chat with its participants, memories, and activity",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			chat, err := store.ResolveChat(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}
			printChatContext(ctx, database, store, chat)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <query>",
		Short: "Rename a chat or edit its notes",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name, _ := cmd.Flags().GetString("name")
			notes, _ := cmd.Flags().GetString("notes")
			if name == "" && !cmd.Flags().Changed("notes") {
				fail("at least one of --name or --notes must be provided")
			}

			database := openDatabase()
			defer database.Close()
			store := graph.NewStore(database)
			ctx := context.Background()

			chat, err := store.ResolveChat(ctx, args[0])
			if err != nil {
				failResolve(args[0], err)
			}

			var upd graph.ChatUpdate
			if name != "" {
				upd.DisplayName = &name
			}
			if cmd.Flags().Changed("notes") {
				upd.Notes = &notes
			}
			if err := store.UpdateChat(ctx, chat.ID, upd); err != nil {
				fail("failed to update chat: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]interface{}{"ok": true, "id": chat.ID})
			} else {
				fmt.Printf("✓ Updated %s\n", chat.ID)
			}
		},
	}
	setCmd.Flags().String("name", "", "New display name")
	setCmd.Flags().String("notes", "", "Notes to attach")

	chatsCmd.AddCommand(listCmd, showCmd, setCmd)
	return chatsCmd
}

func chatName(c *graph.Chat) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ExternalID
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).Format("Jan 02, 2006")
}

// printPersonContext assembles the person view: graph data, linked
// memories, and message activity from the chunk index.
func printPersonContext(ctx context.Context, database *sql.DB, store *graph.Store, person *graph.Person) {
	handles, err := store.Handles(ctx, person.ID)
	if err != nil {
		fail("failed to get handles: %v", err)
	}
	aliases, err := store.Aliases(ctx, person.ID)
	if err != nil {
		fail("failed to get aliases: %v", err)
	}
	relationships, err := store.Relationships(ctx, person.ID)
	if err != nil {
		fail("failed to get relationships: %v", err)
	}
	attributes, err := store.Attributes(ctx, person.ID)
	if err != nil {
		fail("failed to get attributes: %v", err)
	}
	memories, err := memstore.New(database, nil).SearchMemories(ctx, memstore.SearchRequest{PersonID: person.ID})
	if err != nil {
		fail("failed to get memories: %v", err)
	}
	stats, err := docstore.New(database).SenderStats(ctx, person.DisplayName)
	if err != nil {
		fail("failed to get activity: %v", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"person":        person,
			"handles":       handles,
			"aliases":       aliases,
			"relationships": relationships,
			"attributes":    attributes,
			"memories":      memories,
			"stats":         stats,
		})
		return
	}

	fmt.Printf("%s (%s)\n", person.DisplayName, person.ID)
	if person.Notes != "" {
		fmt.Printf("Notes: %s\n", person.Notes)
	}
	if len(handles) > 0 {
		fmt.Println("\nHandles:")
		for _, h := range handles {
			fmt.Printf("  %s (%s)\n", h.Raw, h.Type)
		}
	}
	if len(aliases) > 0 {
		fmt.Println("\nAliases:")
		for _, a := range aliases {
			marker := ""
			if a.IsPrimary {
				marker = " (primary)"
			}
			fmt.Printf("  %s%s\n", a.Name, marker)
		}
	}
	if len(relationships) > 0 {
		fmt.Println("\nRelationships:")
		for _, r := range relationships {
			line := fmt.Sprintf("  %s -> %s", r.Type, r.ToPersonID)
			if r.Description != "" {
				line += " (" + r.Description + ")"
			}
			fmt.Println(line)
		}
	}
	if len(attributes) > 0 {
		fmt.Println("\nAttributes:")
		for _, a := range attributes {
			fmt.Printf("  %s: %s\n", a.Key, a.Value)
		}
	}
	if len(memories) > 0 {
		fmt.Println("\nMemories:")
		for _, m := range memories {
			fmt.Printf("  [%s/%d] %s\n", m.Category, m.Importance, m.Content)
		}
	}
	fmt.Printf("\nActivity: %d chunks", stats.ChunkCount)
	if stats.ChunkCount > 0 {
		fmt.Printf(", %s to %s", formatUnix(stats.FirstActivity), formatUnix(stats.LastActivity))
	}
	fmt.Println()
}

// printChatContext mirrors printPersonContext for a chat.
func printChatContext(ctx context.Context, database *sql.DB, store *graph.Store, chat *graph.Chat) {
	participants, err := store.ChatParticipants(ctx, chat.ID)
	if err != nil {
		fail("failed to get participants: %v", err)
	}
	memories, err := memstore.New(database, nil).SearchMemories(ctx, memstore.SearchRequest{ChatID: chat.ID})
	if err != nil {
		fail("failed to get memories: %v", err)
	}
	stats, err := docstore.New(database).ConversationStats(ctx, chat.ExternalID)
	if err != nil {
		fail("failed to get activity: %v", err)
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"chat":         chat,
			"participants": participants,
			"memories":     memories,
			"stats":        stats,
		})
		return
	}

	kind := "direct chat"
	if chat.IsGroupChat {
		kind = "group chat"
	}
	fmt.Printf("%s (%s, %s)\n", chatName(chat), chat.ID, kind)
	if chat.Notes != "" {
		fmt.Printf("Notes: %s\n", chat.Notes)
	}
	if len(participants) > 0 {
		fmt.Println("\nParticipants:")
		for _, p := range participants {
			line := "  " + p.PersonID
			if person, err := store.GetPerson(ctx, p.PersonID); err == nil {
				line = "  " + person.DisplayName
			}
			if p.LeftAt != nil {
				line += " (left)"
			}
			fmt.Println(line)
		}
	}
	if len(memories) > 0 {
		fmt.Println("\nMemories:")
		for _, m := range memories {
			fmt.Printf("  [%s/%d] %s\n", m.Category, m.Importance, m.Content)
		}
	}
	fmt.Printf("\nActivity: %d chunks", stats.ChunkCount)
	if stats.ChunkCount > 0 {
		fmt.Printf(", %s to %s", formatUnix(stats.FirstActivity), formatUnix(stats.LastActivity))
	}
	fmt.Println()
}
