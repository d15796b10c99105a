// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Line-mode chat for terminals without the full screen view and
// for piped input.
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /history            Show the conversation with message numbers
//   /edit N text        Replace the text of message N
//   /clear, /c          Clear the conversation
//   /export [md|json] [file]
//                       Write the conversation to stdout or a file
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel a request still waiting for the provider
//   Ctrl+D              Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/chatterm/internal/config"
	"github.com/jeranaias/chatterm/internal/model"
	"github.com/jeranaias/chatterm/internal/session"
	"github.com/jeranaias/chatterm/internal/storage"
	"github.com/jeranaias/chatterm/internal/util"
)

// HistoryFileName is the liner input history kept in the config directory.
const HistoryFileName = "chat_history"

// ErrReplyDiscarded is returned when the reply being printed was removed
// by a clear before it finished.
var ErrReplyDiscarded = errors.New("reply was discarded")

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of user input.
type LineReader interface {
	ReadInput(prompt string) (string, error)
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in historyFile. An
// empty path keeps history in memory only.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	cli := &ChatCLI{
		line:        line,
		historyFile: historyFile,
	}
	cli.LoadHistory()
	return cli
}

// DefaultHistoryFile returns the history path in the config directory.
func DefaultHistoryFile() string {
	dir, err := config.ConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, HistoryFileName)
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if c.historyFile == "" {
		return
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file with secure permissions.
func (c *ChatCLI) SaveHistory() {
	if c.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.historyFile), util.PrivateDirPerm); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, util.PrivateFilePerm)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// SlashCommand is a parsed REPL command.
type SlashCommand struct {
	Name   string // help, history, edit, clear, export, quit
	Index  int    // 1-based message number for edit
	Text   string // replacement text for edit
	Format storage.ExportFormat
	Path   string // export destination; empty writes to the terminal
}

// ParseSlashCommand parses a line starting with "/".
func ParseSlashCommand(line string) (SlashCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return SlashCommand{}, &UsageError{Reason: "not a command: " + line}
	}

	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "/help", "/h", "/?", "/":
		return SlashCommand{Name: "help"}, nil

	case "/history":
		return SlashCommand{Name: "history"}, nil

	case "/clear", "/c":
		return SlashCommand{Name: "clear"}, nil

	case "/quit", "/q", "/exit":
		return SlashCommand{Name: "quit"}, nil

	case "/edit", "/e":
		if len(args) < 2 {
			return SlashCommand{}, ErrMissingArgument("message number and text", "/edit 3 corrected question")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return SlashCommand{}, &UsageError{Reason: fmt.Sprintf("invalid message number %q", args[0]), Example: "/edit 3 corrected question"}
		}
		// Keep the text exactly as typed after the number.
		rest := strings.TrimSpace(line)
		rest = strings.TrimSpace(rest[len(fields[0]):])
		rest = strings.TrimSpace(rest[len(args[0]):])
		return SlashCommand{Name: "edit", Index: n, Text: rest}, nil

	case "/export":
		return parseExport(args)

	default:
		return SlashCommand{}, &UsageError{Reason: fmt.Sprintf("unknown command: %s (type /help for commands)", name)}
	}
}

// parseExport accepts "/export", "/export json", "/export file.md" and
// "/export md file.md". A bare path picks JSON for a .json extension.
func parseExport(args []string) (SlashCommand, error) {
	cmd := SlashCommand{Name: "export", Format: storage.FormatMarkdown}
	if len(args) > 2 {
		return SlashCommand{}, &UsageError{Reason: "too many arguments", Example: "/export json chat.json"}
	}
	if len(args) == 0 {
		return cmd, nil
	}

	if format, err := storage.ParseExportFormat(args[0]); err == nil {
		cmd.Format = format
		if len(args) == 2 {
			cmd.Path = args[1]
		}
		return cmd, nil
	}
	if len(args) == 2 {
		return SlashCommand{}, &UsageError{Reason: fmt.Sprintf("unknown export format %q", args[0]), Example: "/export md chat.md"}
	}

	cmd.Path = args[0]
	if strings.EqualFold(filepath.Ext(cmd.Path), ".json") {
		cmd.Format = storage.FormatJSON
	}
	return cmd, nil
}

// =============================================================================
// SHELL
// =============================================================================

// Shell runs conversation turns in line mode on top of the controller.
type Shell struct {
	ctrl   *session.Controller
	out    io.Writer
	errOut io.Writer
	now    func() time.Time
}

// NewShell creates a shell writing replies to out and problems to errOut.
func NewShell(ctrl *session.Controller, out, errOut io.Writer) *Shell {
	return &Shell{ctrl: ctrl, out: out, errOut: errOut, now: time.Now}
}

// Run reads lines until the user quits or input ends. Ctrl+C while a
// request is outstanding cancels that request only.
func (s *Shell) Run(ctx context.Context, in LineReader) error {
	for {
		line, err := in.ReadInput(PromptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		quit, err := s.Execute(turnCtx, line)
		stop()

		if err != nil {
			fmt.Fprintf(s.errOut, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Execute handles one line of input. It reports whether the user asked
// to quit.
func (s *Shell) Execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return true, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.Ask(ctx, line)
	}

	cmd, err := ParseSlashCommand(line)
	if err != nil {
		return false, err
	}

	switch cmd.Name {
	case "help":
		s.PrintHelp()
	case "history":
		s.PrintHistory()
	case "clear":
		s.ctrl.Clear()
		fmt.Fprintln(s.out, SuccessStyle.Render("[Conversation cleared]"))
	case "edit":
		return false, s.edit(cmd.Index, cmd.Text)
	case "export":
		return false, s.export(cmd.Format, cmd.Path)
	case "quit":
		return true, nil
	}
	return false, nil
}

// Ask submits text and prints the reply as it is revealed. A reply that
// failed is returned as a *ReplyError.
func (s *Shell) Ask(ctx context.Context, text string) error {
	updates, unsubscribe := s.ctrl.Subscribe()
	defer unsubscribe()

	if err := s.ctrl.Submit(ctx, text); err != nil {
		return err
	}

	msgs := s.ctrl.Snapshot()
	if len(msgs) == 0 || msgs[len(msgs)-1].Sender != model.SenderAssistant {
		return ErrReplyDiscarded
	}
	replyID := msgs[len(msgs)-1].ID

	reply, ok := followReply(updates, replyID, s.out)
	s.ctrl.Wait()
	if !ok {
		fmt.Fprintln(s.out)
		return ErrReplyDiscarded
	}
	if reply.IsError {
		return &ReplyError{Message: reply.Content}
	}
	if strings.TrimSpace(reply.Content) == "" {
		fmt.Fprint(s.out, DimStyle.Render("(empty reply)"))
	}
	fmt.Fprintln(s.out)
	return nil
}

// followReply writes the reply with the given id to w as its text grows
// and returns the final record. ok is false if the reply disappeared or
// the feed closed first.
func followReply(updates <-chan session.Snapshot, id string, w io.Writer) (model.Message, bool) {
	printed := 0
	seen := false
	for snap := range updates {
		msg, found := findMessage(snap.Messages, id)
		if !found {
			if seen {
				return model.Message{}, false
			}
			continue
		}
		seen = true

		if msg.IsError {
			return msg, true
		}
		if msg.IsPending {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) > printed {
			fmt.Fprint(w, string(runes[printed:]))
			printed = len(runes)
		}
		if msg.IsFinal() {
			return msg, true
		}
	}
	return model.Message{}, false
}

func findMessage(msgs []model.Message, id string) (model.Message, bool) {
	for _, m := range msgs {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}

func (s *Shell) edit(index int, text string) error {
	msgs := s.ctrl.Snapshot()
	if index > len(msgs) {
		return fmt.Errorf("no message %d (the conversation has %d)", index, len(msgs))
	}
	if err := s.ctrl.Edit(msgs[index-1].ID, text); err != nil {
		return err
	}
	fmt.Fprintln(s.out, SuccessStyle.Render(fmt.Sprintf("[Message %d updated]", index)))
	return nil
}

func (s *Shell) export(format storage.ExportFormat, path string) error {
	data, err := storage.Export(s.ctrl.Snapshot(), format, s.now())
	if err != nil {
		return err
	}
	if path == "" {
		_, err := s.out.Write(data)
		if err == nil && len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Fprintln(s.out)
		}
		return err
	}
	path, err = util.ExpandHome(path)
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(path, data, util.PrivateFilePerm); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintln(s.out, SuccessStyle.Render("[Exported to "+path+"]"))
	return nil
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

// PrintWelcome prints the banner shown when the REPL starts.
func (s *Shell) PrintWelcome(modelName, keySource string) {
	fmt.Fprintln(s.out, TitleStyle.Render("chatterm"))
	fmt.Fprintln(s.out, RenderSeparator())
	fmt.Fprintf(s.out, "%s %s\n", DimStyle.Render("Model:"), ValueStyle.Render(modelName))
	if keySource == "" {
		fmt.Fprintf(s.out, "%s %s\n", DimStyle.Render("API key:"), WarningStyle.Render("not set"))
	} else {
		fmt.Fprintf(s.out, "%s %s\n", DimStyle.Render("API key:"), ValueStyle.Render("from "+keySource))
	}
	if n := len(s.ctrl.Snapshot()); n > 0 {
		fmt.Fprintf(s.out, "%s %d earlier messages (/history to list)\n", DimStyle.Render("Restored:"), n)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Type a message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(s.out)
}

// PrintHelp prints the slash commands.
func (s *Shell) PrintHelp() {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/history", "Show the conversation with message numbers"},
		{"/edit N text", "Replace the text of message N"},
		{"/clear, /c", "Clear the conversation"},
		{"/export [md|json] [file]", "Export the conversation"},
		{"/quit, /q", "Exit chat"},
	}

	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, TitleStyle.Render("Available Commands"))
	fmt.Fprintln(s.out, RenderSeparator(20))
	for _, c := range commands {
		fmt.Fprintf(s.out, "  %s  %s\n",
			CommandStyle.Render(util.PadRight(c.cmd, 26)),
			DimStyle.Render(c.desc))
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Tip: Ctrl+C cancels a request still waiting for the provider, Ctrl+D exits"))
	fmt.Fprintln(s.out)
}

// PrintHistory lists the conversation with the numbers /edit takes.
func (s *Shell) PrintHistory() {
	printHistory(s.out, s.ctrl.Snapshot(), outputWidth(s.out))
}

func printHistory(w io.Writer, msgs []model.Message, width int) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("[No messages yet]"))
		return
	}

	for i, msg := range msgs {
		who := senderStyle(msg.Sender == model.SenderUser).Render(msg.Sender.DisplayName())
		label := fmt.Sprintf("%3d. %s", i+1, who)
		if t := msg.TimeLabel(); t != "" {
			label += " " + DimStyle.Render(t)
		}
		if msg.IsEdited {
			label += " " + DimStyle.Render("(edited)")
		}

		content := util.OneLine(msg.Content)
		switch {
		case msg.IsPending:
			content = DimStyle.Render("(waiting for reply)")
		case msg.IsError:
			content = ErrorStyle.Render(util.TruncateWidth(content, width-10))
		default:
			content = util.TruncateWidth(content, width-10)
		}
		fmt.Fprintf(w, "%s\n      %s\n", label, content)
	}
}
