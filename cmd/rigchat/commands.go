// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// ASK
// =============================================================================

func newAskCmd(a *app) *cobra.Command {
	var (
		cont      bool
		imagePath string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Send one message and print the reply",
		Long: `Send one message and stream the reply to stdout.

The question starts a new chat unless --continue is given, in which case it
is added to the most recent chat. An empty most recent chat is reused. A question of "-" is read from stdin.`,
		Example: `  rigchat ask "What is a goroutine?"
  rigchat ask --continue "And a channel?"
  rigchat ask --image diagram.png "Explain this diagram"
  git diff | rigchat ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}

			var img *model.Image
			if imagePath != "" {
				var err error
				if img, err = loadImage(imagePath); err != nil {
					return err
				}
			}

			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				active, ok := eng.ActiveChat()
				if !cont && (!ok || len(active.Messages) > 0) {
					if _, err := eng.StartNewChat(ctx); err != nil {
						return err
					}
				}
				return ask(ctx, eng, text, img, cmd.OutOrStdout(), cmd.ErrOrStderr())
			})
		},
	}
	cmd.Flags().BoolVarP(&cont, "continue", "c", false, "Add to the most recent chat instead of starting one")
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Attach an image file")
	return cmd
}

// ask sends text to the active chat, streaming the reply to out. Ctrl+C
// stops the reply.
func ask(ctx context.Context, eng *engine.Engine, text string, img *model.Image, out, errOut io.Writer) error {
	p := &printer{out: out, errOut: errOut}
	detach := p.attach(eng)
	defer detach()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	err := eng.SendMessage(ctx, text, img)
	switch {
	case err == nil:
		return nil
	case p.errorCount() > 0:
		return errReported
	default:
		return err
	}
}

// =============================================================================
// LIST / NEW / RENAME / DELETE
// =============================================================================

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List chats, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				active, _ := eng.ActiveChat()
				printChatList(cmd.OutOrStdout(), eng.Chats(), active.ID, time.Now())
				return nil
			})
		},
	}
}

func newNewCmd(a *app) *cobra.Command {
	var title string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new empty chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				chat, err := eng.StartNewChat(ctx)
				if err != nil {
					return err
				}
				if title != "" {
					if err := eng.RenameChat(ctx, chat.ID, title); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), chat.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title for the new chat")
	return cmd
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <n|id> <title>",
		Short: "Rename a chat",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				chat, err := resolveChat(eng.Chats(), args[0])
				if err != nil {
					return err
				}
				return eng.RenameChat(ctx, chat.ID, strings.Join(args[1:], " "))
			})
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <n|id>...",
		Aliases: []string{"rm"},
		Short:   "Delete chats",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				// Resolve every reference first; positions shift as chats go.
				targets := make([]model.Chat, 0, len(args))
				for _, ref := range args {
					chat, err := resolveChat(eng.Chats(), ref)
					if err != nil {
						return err
					}
					targets = append(targets, chat)
				}
				for _, chat := range targets {
					if err := eng.DeleteChat(ctx, chat.ID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%s)\n", chat.Title, shortID(chat.ID))
				}
				return nil
			})
		},
	}
}

// =============================================================================
// SHOW / EXPORT
// =============================================================================

func newShowCmd(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show [n|id]",
		Short: "Print a chat (the active one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				id, err := chatArg(eng, args)
				if err != nil {
					return err
				}
				chat, err := eng.Chat(ctx, id)
				if err != nil {
					return err
				}

				opts := export.DefaultOptions()
				opts.IncludeMetadata = false
				md, err := export.NewMarkdownExporter(opts).Export(&chat)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if raw {
					_, err = out.Write(md)
					return err
				}
				fmt.Fprint(out, renderMarkdown(out, string(md)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print Markdown without terminal rendering")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		dir    string
	)
	cmd := &cobra.Command{
		Use:   "export [n|id]",
		Short: "Export a chat to Markdown or JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
				id, err := chatArg(eng, args)
				if err != nil {
					return err
				}
				path, err := exportChat(ctx, eng, id, format, dir)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format: markdown or json")
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "Directory to write the export to")
	return cmd
}

// chatArg resolves an optional chat reference, defaulting to the active chat.
func chatArg(eng *engine.Engine, args []string) (string, error) {
	if len(args) == 0 {
		active, ok := eng.ActiveChat()
		if !ok {
			return "", engine.ErrNoActiveChat
		}
		return active.ID, nil
	}
	chat, err := resolveChat(eng.Chats(), args[0])
	if err != nil {
		return "", err
	}
	return chat.ID, nil
}
