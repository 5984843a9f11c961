package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agrovoice/agrovoice/internal/history"
)

func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage conversation sessions",
	}

	sessionsCmd.AddCommand(newSessionsShowCmd())
	sessionsCmd.AddCommand(newSessionsTailCmd())
	sessionsCmd.AddCommand(newSessionsPageCmd())
	sessionsCmd.AddCommand(newSessionsAddCmd())
	sessionsCmd.AddCommand(newSessionsRecountCmd())
	sessionsCmd.AddCommand(newSessionsUseCmd())

	return sessionsCmd
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show the full conversation of a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd.Context(), args)
		},
	}
}

func newSessionsTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail [session-id]",
		Short: "Show the most recent messages of a session",
		Args:  cobra.MaximumNArgs(1),
	}
	n := cmd.Flags().IntP("messages", "n", 6, "number of messages to show")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSessionsTail(cmd.Context(), args, *n)
	}
	return cmd
}

func newSessionsPageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "page [session-id]",
		Short: "Show one page of a session, counted back from the newest message",
		Args:  cobra.MaximumNArgs(1),
	}
	offset := cmd.Flags().Int("offset", 0, "messages to skip from the end")
	limit := cmd.Flags().Int("limit", 10, "page size")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSessionsPage(cmd.Context(), args, *offset, *limit)
	}
	return cmd
}

func newSessionsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <session-id> <content>...",
		Short: "Append a message to a session",
		Args:  cobra.MinimumNArgs(2),
	}
	role := cmd.Flags().String("role", history.RoleUser, "message role (user or assistant)")
	user := cmd.Flags().String("user", "", "user id, recorded when the session is created")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runSessionsAdd(cmd.Context(), args[0], *role, strings.Join(args[1:], " "), *user)
	}
	return cmd
}

func newSessionsRecountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recount [session-id]",
		Short: "Recompute a session's message count from its chunks",
		Long: `Recompute a session's message count from its stored chunks.

Under heavy concurrent writes the denormalized counter on the session can
drift below the true total while every message stays durable in its chunk.
Recount repairs the counter; run it when the session is quiet.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsRecount(cmd.Context(), args)
		},
	}
}

func newSessionsUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use [session-id]",
		Short: "Set (or print) the current session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsUse(args)
		},
	}
}

// resolveSessionID picks the session id from args, falling back to the
// current session recorded by "sessions use".
func resolveSessionID(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	baseDir, err := history.StateBaseDir()
	if err != nil {
		return "", err
	}
	id, err := history.LoadCurrentSessionID(baseDir)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("no session id given and no current session set (see 'agrovoice sessions use')")
	}
	return id, nil
}

func runSessionsShow(ctx context.Context, args []string) error {
	sessionID, err := resolveSessionID(args)
	if err != nil {
		return err
	}

	store, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := store.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		fmt.Printf("Session %s does not exist\n", sessionID)
		return nil
	}

	messages, err := store.Conversation(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to read conversation: %w", err)
	}

	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Printf("User: %s\n", sess.UserID)
	fmt.Printf("Created: %s\n", formatTime(sess.CreatedAt))
	fmt.Printf("Updated: %s\n", formatTime(sess.UpdatedAt))
	fmt.Printf("Chunks: %d\n", len(sess.Chunks))
	fmt.Printf("Messages: %d", sess.MessageCount)
	if sess.MessageCount != len(messages) {
		fmt.Printf(" (counter; %d stored - run 'sessions recount')", len(messages))
	}
	fmt.Println()
	printMessages(messages)
	return nil
}

func runSessionsTail(ctx context.Context, args []string, n int) error {
	sessionID, err := resolveSessionID(args)
	if err != nil {
		return err
	}

	store, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	messages, err := store.LastN(ctx, sessionID, n)
	if err != nil {
		return fmt.Errorf("failed to read tail: %w", err)
	}
	if len(messages) == 0 {
		fmt.Println("No messages")
		return nil
	}
	printMessages(messages)
	return nil
}

func runSessionsPage(ctx context.Context, args []string, offset, limit int) error {
	sessionID, err := resolveSessionID(args)
	if err != nil {
		return err
	}

	store, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	messages, err := store.Page(ctx, sessionID, offset, limit)
	if err != nil {
		return fmt.Errorf("failed to read page: %w", err)
	}
	if len(messages) == 0 {
		fmt.Println("No messages in this page")
		return nil
	}
	printMessages(messages)
	return nil
}

func runSessionsAdd(ctx context.Context, sessionID, role, content, userID string) error {
	store, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := store.AddMessage(ctx, sessionID, role, content, userID, nil)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	fmt.Printf("Appended message %s to session %s\n", id, sessionID)
	return nil
}

func runSessionsRecount(ctx context.Context, args []string) error {
	sessionID, err := resolveSessionID(args)
	if err != nil {
		return err
	}

	store, cleanup, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sess, err := store.Recount(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to recount session: %w", err)
	}
	if sess == nil {
		fmt.Printf("Session %s does not exist\n", sessionID)
		return nil
	}
	fmt.Printf("Session %s message count is now %d\n", sess.ID, sess.MessageCount)
	return nil
}

func runSessionsUse(args []string) error {
	baseDir, err := history.StateBaseDir()
	if err != nil {
		return err
	}

	if len(args) == 0 {
		id, err := history.LoadCurrentSessionID(baseDir)
		if err != nil {
			return err
		}
		if id == "" {
			fmt.Println("No current session set")
			return nil
		}
		fmt.Println(id)
		return nil
	}

	if err := history.SaveCurrentSessionID(baseDir, args[0]); err != nil {
		return fmt.Errorf("failed to save current session: %w", err)
	}
	fmt.Printf("Current session is now %s\n", args[0])
	return nil
}

func printMessages(messages []history.Message) {
	fmt.Println()
	fmt.Println("───────────────────────────────────────")
	fmt.Println()
	for _, msg := range messages {
		who := "Farmer"
		if msg.Role == history.RoleAssistant {
			who = "Agrovoice"
		}
		fmt.Printf("[%s] %s> %s\n", formatTime(msg.Timestamp), who, msg.Content)
		for _, att := range msg.Attachments {
			fmt.Printf("    attachment: %s (%s)\n", att.URL, att.Description)
		}
		fmt.Println()
	}
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
