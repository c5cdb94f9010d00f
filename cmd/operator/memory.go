package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/easeaico/petpal/internal/app"
	"github.com/easeaico/petpal/internal/config"
)

// openApp builds the services with warm indexes and profile facts.
func openApp(ctx context.Context) (*app.App, error) {
	cfg := config.LoadRelaxed()
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, errors.New(problems[0])
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Warm(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newChatCmd() *cobra.Command {
	var userID, characterID, message string
	var showHistory int
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a pet through the full reply pipeline (single message or REPL)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if characterID == "" {
				characterID = a.Config.CharacterID
			}
			out := cmd.OutOrStdout()

			if showHistory > 0 {
				turns, err := a.Chat.History(ctx, userID, characterID, showHistory)
				if err != nil {
					return err
				}
				for _, t := range turns {
					fmt.Fprintf(out, "[%s] %s: %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"), t.Role, t.Content)
				}
				return nil
			}

			if message != "" {
				reply, err := a.Chat.Reply(ctx, userID, characterID, message)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply)
				return nil
			}
			return repl(ctx, cmd.InOrStdin(), out, func(text string) (string, error) {
				return a.Chat.Reply(ctx, userID, characterID, text)
			})
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (required)")
	cmd.Flags().StringVarP(&characterID, "character", "c", "", "Character id (default CHARACTER_ID)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Single message to send")
	cmd.Flags().IntVar(&showHistory, "history", 0, "Print the newest N turns instead of chatting")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// repl reads one message per line until EOF, "exit" or cancellation.
func repl(ctx context.Context, in io.Reader, out io.Writer, reply func(string) (string, error)) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSpace(scanner.Text())
		switch text {
		case "":
			fmt.Fprint(out, "> ")
			continue
		case "exit", "quit":
			return nil
		}
		answer, err := reply(text)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		} else {
			fmt.Fprintln(out, answer)
		}
		fmt.Fprint(out, "> ")
	}
	return scanner.Err()
}

func newReindexCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reindex [conversation-id...]",
		Short: "Rebuild conversation indexes from the durable log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return errors.New("pass conversation ids or --all")
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ids := args
			if all {
				if ids, err = a.Store.Turns.ListConversations(ctx); err != nil {
					return err
				}
			}
			var errs []error
			for _, id := range ids {
				n, err := a.Memory.RebuildIndex(ctx, id)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "  ✗ %s: %v\n", id, err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s: %d records\n", id, n)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Rebuild every conversation in the log")
	return cmd
}

func newDeleteIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-index conversation-id...",
		Short: "Delete conversation indexes and their id maps (turns are kept)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			for _, id := range args {
				if err := a.Memory.DeleteConversationIndex(ctx, id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  ✓ deleted %s\n", id)
			}
			return errors.Join(errs...)
		},
	}
}

func newListIndicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-indices",
		Short: "List loaded conversation indexes and their sizes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			ids := a.Indexes.Conversations()
			for _, id := range ids {
				c, err := a.Indexes.Load(id)
				if err != nil {
					fmt.Fprintf(out, "%s\t?\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s\t%d\n", id, c.Size())
			}
			fmt.Fprintf(out, "%d index(es) under %s\n", len(ids), a.Indexes.Root())
			return nil
		},
	}
}
