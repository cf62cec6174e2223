// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/engine"
	"github.com/jeranaias/rigchat/internal/export"
	"github.com/jeranaias/rigchat/internal/model"
)

const chatHelp = `Commands:
  /new                    Start a new chat
  /list                   List chats
  /switch <n|id>          Switch to a chat by number or ID prefix
  /rename <title>         Rename the current chat
  /delete [n|id]          Delete the current or given chat
  /model [provider [model]|default]
                          Show, pin or unpin the current chat's model
  /image [path]           Attach an image to the next message (no path clears)
  /export [markdown|json] Export the current chat to this directory
  /help                   Show this help
  /quit                   Exit

Ctrl+C stops a reply that is still streaming. Ctrl+D exits.`

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat on the most recent conversation.

` + chatHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}
}

func (a *app) runChat(cmd *cobra.Command) error {
	return a.withEngine(cmd, func(ctx context.Context, eng *engine.Engine) error {
		r := newREPL(eng, cmd.OutOrStdout(), cmd.ErrOrStderr(), a.logger)
		defer r.close()
		return r.run(ctx)
	})
}

// =============================================================================
// REPL
// =============================================================================

// repl is an interactive session over one engine.
type repl struct {
	eng    *engine.Engine
	out    io.Writer
	errOut io.Writer
	logger *zap.Logger

	line        *liner.State
	historyFile string
	printer     *printer
	detach      func()

	// image is attached to the next message sent.
	image     *model.Image
	imagePath string
}

func newREPL(eng *engine.Engine, out, errOut io.Writer, logger *zap.Logger) *repl {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(os.TempDir(), "rigchat_history")
	if dir, err := config.ConfigDir(); err == nil {
		historyFile = filepath.Join(dir, "chat_history")
	}

	r := &repl{
		eng:         eng,
		out:         out,
		errOut:      errOut,
		logger:      logger,
		line:        line,
		historyFile: historyFile,
		printer:     &printer{out: out, errOut: errOut, labels: true},
	}
	r.detach = r.printer.attach(eng)
	r.loadHistory()
	return r
}

func (r *repl) loadHistory() {
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
}

// saveHistory persists input history with owner-only permissions.
func (r *repl) saveHistory() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		r.logger.Debug("history not saved", zap.Error(err))
		return
	}
	defer f.Close()
	_, _ = r.line.WriteHistory(f)
}

func (r *repl) close() {
	r.detach()
	r.saveHistory()
	r.line.Close()
}

func (r *repl) run(ctx context.Context) error {
	r.printWelcome()

	// Ctrl+C outside the prompt stops the streaming reply.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer func() {
		signal.Stop(sigChan)
		close(sigChan)
	}()
	go func() {
		for range sigChan {
			if r.eng.CancelSend() {
				fmt.Fprintln(r.errOut, "\n"+warningStyle.Render("[Cancelled]"))
			}
		}
	}()

	for {
		input, err := r.line.Prompt(r.prompt())
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				r.logger.Debug("prompt failed", zap.Error(err))
			}
			fmt.Fprintln(r.out)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := r.command(ctx, input)
			var verr *engine.ValidationError
			// Validation errors arrive as error events.
			if err != nil && !errors.As(err, &verr) {
				fmt.Fprintf(r.errOut, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.send(ctx, input)
	}
}

func (r *repl) prompt() string {
	p := "rigchat> "
	if r.image != nil {
		p = "rigchat [" + filepath.Base(r.imagePath) + "]> "
	}
	return promptStyle.Render(p)
}

func (r *repl) printWelcome() {
	active, _ := r.eng.ActiveChat()
	settings := r.eng.Settings()
	fmt.Fprintln(r.errOut, titleStyle.Render("rigchat "+Version))
	fmt.Fprintln(r.errOut, dimStyle.Render(fmt.Sprintf("Chat: %s (%s)  Provider: %s",
		active.Title, shortID(active.ID), describeModel(active, settings))))
	fmt.Fprintln(r.errOut, dimStyle.Render("Type /help for commands."))
}

// send delivers one message. Failures the engine reports as events are
// already printed.
func (r *repl) send(ctx context.Context, text string) {
	err := r.eng.SendMessage(ctx, text, r.image)

	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		// Keep the attachment so the user can fix the text and resend.
		return
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, engine.ErrNoActiveChat),
		errors.Is(err, engine.ErrDestroyed):
		fmt.Fprintf(r.errOut, "%s %v\n", errorStyle.Render("[Error]"), err)
		return
	}
	r.image, r.imagePath = nil, ""
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// splitCommand splits "/cmd rest of line" into a lower-cased command and
// its argument text.
func splitCommand(input string) (string, string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, rest, _ := strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, input string) (bool, error) {
	name, arg := splitCommand(input)

	switch name {
	case "quit", "q", "exit":
		return true, nil

	case "help", "h", "?":
		fmt.Fprintln(r.out, chatHelp)

	case "new", "n":
		_, err := r.eng.StartNewChat(ctx)
		return false, err

	case "list", "ls", "l":
		active, _ := r.eng.ActiveChat()
		printChatList(r.out, r.eng.Chats(), active.ID, time.Now())

	case "switch", "s":
		c, err := resolveChat(r.eng.Chats(), arg)
		if err != nil {
			return false, err
		}
		if err := r.eng.SwitchActiveChat(ctx, c.ID); err != nil {
			return false, err
		}
		r.printTranscript()

	case "rename":
		if arg == "" {
			return false, errors.New("usage: /rename <title>")
		}
		active, _ := r.eng.ActiveChat()
		return false, r.eng.RenameChat(ctx, active.ID, arg)

	case "delete", "del":
		target, _ := r.eng.ActiveChat()
		if arg != "" {
			c, err := resolveChat(r.eng.Chats(), arg)
			if err != nil {
				return false, err
			}
			target = c
		}
		if err := r.eng.DeleteChat(ctx, target.ID); err != nil {
			return false, err
		}
		fmt.Fprintln(r.errOut, successStyle.Render("Deleted "+target.Title))

	case "model", "m":
		return false, r.model(ctx, arg)

	case "image", "img":
		if arg == "" {
			r.image, r.imagePath = nil, ""
			fmt.Fprintln(r.errOut, dimStyle.Render("Attachment cleared."))
			return false, nil
		}
		img, err := loadImage(arg)
		if err != nil {
			return false, err
		}
		r.image, r.imagePath = img, arg
		fmt.Fprintln(r.errOut, dimStyle.Render(fmt.Sprintf("Attached %s (%s) to the next message.", filepath.Base(arg), img.MIMEType)))

	case "export":
		active, _ := r.eng.ActiveChat()
		path, err := exportChat(ctx, r.eng, active.ID, arg, ".")
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.errOut, successStyle.Render("Exported to "+path))

	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return false, nil
}

func (r *repl) model(ctx context.Context, arg string) error {
	active, _ := r.eng.ActiveChat()
	fields := strings.Fields(arg)
	switch {
	case len(fields) == 0:
		fmt.Fprintln(r.out, describeModel(active, r.eng.Settings()))
		return nil
	case len(fields) == 1 && strings.EqualFold(fields[0], "default"):
		return r.eng.SetChatModel(ctx, active.ID, "", "")
	case len(fields) == 1:
		return r.eng.SetChatModel(ctx, active.ID, fields[0], "")
	default:
		return r.eng.SetChatModel(ctx, active.ID, fields[0], fields[1])
	}
}

// printTranscript shows the active chat's messages after a switch.
func (r *repl) printTranscript() {
	active, ok := r.eng.ActiveChat()
	if !ok {
		return
	}
	for _, m := range active.Messages {
		label := userStyle
		if m.Role == model.RoleModel {
			label = assistantStyle
		}
		fmt.Fprint(r.out, label.Render(m.Role.DisplayName()+":")+" ")
		if m.HasImage() {
			fmt.Fprint(r.out, dimStyle.Render("[image] "))
		}
		fmt.Fprintln(r.out, m.Content)
	}
}

// describeModel reports which provider and model a chat will use.
func describeModel(c model.Chat, s model.Settings) string {
	name := c.Provider
	pinned := name != ""
	if !pinned {
		name = s.ActiveProvider
	}
	modelName := c.Model
	if modelName == "" {
		if cfg, _, ok := s.Resolve(name); ok {
			modelName = cfg.Model
		}
	}
	desc := name
	if modelName != "" {
		desc += "/" + modelName
	}
	if pinned {
		desc += " (pinned)"
	}
	return desc
}

// exportChat writes a chat to dir in the given format (default markdown).
func exportChat(ctx context.Context, eng *engine.Engine, id, format, dir string) (string, error) {
	if format == "" {
		format = "markdown"
	}
	opts := export.DefaultOptions()
	opts.OutputDir = dir

	exporter, err := export.New(format, opts)
	if err != nil {
		return "", err
	}
	chat, err := eng.Chat(ctx, id)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(&chat, exporter, opts)
}
