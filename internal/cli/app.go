// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Command definitions for chatterm.
//
// Usage:
//   chatterm                      Full screen chat (line mode when piped)
//   chatterm chat                 Line-mode chat with history and /commands
//   chatterm ask "question"       One turn; the reply goes to stdout
//   chatterm history              Show or export the stored conversation
//   chatterm clear                Delete the stored conversation
//   chatterm config [subcommand]  Manage the configuration file
//   chatterm version              Show version information

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	urfave "github.com/urfave/cli/v2"

	"github.com/jeranaias/chatterm/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APP
// =============================================================================

// AppOption adjusts how commands build their runtime.
type AppOption func(*app)

// WithRuntimeOptions lets callers change the runtime options after the
// flags are read.
func WithRuntimeOptions(fn func(*RuntimeOptions)) AppOption {
	return func(a *app) { a.hooks = append(a.hooks, fn) }
}

// WithInteractive replaces terminal detection for the default action.
func WithInteractive(fn func() bool) AppOption {
	return func(a *app) { a.interactive = fn }
}

type app struct {
	hooks       []func(*RuntimeOptions)
	interactive func() bool
}

// NewApp builds the command line application.
func NewApp(opts ...AppOption) *urfave.App {
	a := &app{interactive: Interactive}
	for _, opt := range opts {
		opt(a)
	}

	return &urfave.App{
		Name:    "chatterm",
		Usage:   "chat with a hosted language model from the terminal",
		Version: Version,
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"CHATTERM_CONFIG"},
			},
			&urfave.StringFlag{
				Name:    "model",
				Aliases: []string{"m"},
				Usage:   "Use `MODEL` for replies (overrides config)",
			},
			&urfave.StringFlag{
				Name:  "storage",
				Usage: "Storage `BACKEND`: bolt, sqlite, file or memory",
			},
			&urfave.BoolFlag{
				Name:  "no-dotenv",
				Usage: "Do not load .env files",
			},
		},
		Action: a.runDefault,
		Commands: []*urfave.Command{
			a.chatCommand(),
			a.tuiCommand(),
			a.askCommand(),
			a.historyCommand(),
			a.clearCommand(),
			a.configCommand(),
			versionCommand(),
		},
	}
}

func (a *app) runtimeOptions(c *urfave.Context) RuntimeOptions {
	opts := RuntimeOptions{
		ConfigPath: c.String("config"),
		Model:      c.String("model"),
		Backend:    c.String("storage"),
		SkipDotEnv: c.Bool("no-dotenv"),
	}
	for _, fn := range a.hooks {
		fn(&opts)
	}
	return opts
}

// withRuntime opens the runtime for the duration of fn.
func (a *app) withRuntime(c *urfave.Context, fn func(*Runtime) error) (err error) {
	rt, err := OpenRuntime(a.runtimeOptions(c))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); err == nil {
			err = closeErr
		}
	}()
	return fn(rt)
}

// =============================================================================
// CHAT
// =============================================================================

func (a *app) runDefault(c *urfave.Context) error {
	if c.Args().Present() {
		return &UsageError{
			Reason:  fmt.Sprintf("unknown command %q", c.Args().First()),
			Example: `chatterm ask "` + strings.Join(c.Args().Slice(), " ") + `"`,
		}
	}
	if a.interactive() {
		return a.withRuntime(c, func(rt *Runtime) error {
			return RunTUI(c.Context, rt)
		})
	}
	return a.runChat(c)
}

func (a *app) chatCommand() *urfave.Command {
	return &urfave.Command{
		Name:   "chat",
		Usage:  "Start a line-mode chat session",
		Action: a.runChat,
	}
}

func (a *app) runChat(c *urfave.Context) error {
	return a.withRuntime(c, func(rt *Runtime) error {
		shell := NewShell(rt.Controller, c.App.Writer, c.App.ErrWriter)

		var in LineReader
		if lineEditing(c.App.Reader, c.App.Writer) {
			shell.PrintWelcome(rt.Config().Provider.Model, rt.KeySource())
			line := NewChatCLI(DefaultHistoryFile())
			defer line.Close()
			in = line
		} else {
			in = NewScannerReader(c.App.Reader)
		}

		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()
		go rt.Watch(ctx, nil)
		return shell.Run(ctx, in)
	})
}

func (a *app) tuiCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "tui",
		Usage: "Start the full screen chat view",
		Action: func(c *urfave.Context) error {
			return a.withRuntime(c, func(rt *Runtime) error {
				return RunTUI(c.Context, rt)
			})
		},
	}
}

// ScannerReader reads lines without a prompt, for piped input.
type ScannerReader struct {
	scanner *bufio.Scanner
}

// NewScannerReader creates a ScannerReader over r.
func NewScannerReader(r io.Reader) *ScannerReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ScannerReader{scanner: s}
}

// ReadInput returns the next line, or io.EOF at the end of input.
func (s *ScannerReader) ReadInput(string) (string, error) {
	if s.scanner.Scan() {
		return s.scanner.Text(), nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// =============================================================================
// ASK
// =============================================================================

func (a *app) askCommand() *urfave.Command {
	return &urfave.Command{
		Name:      "ask",
		Usage:     "Send one message and print the reply",
		ArgsUsage: "MESSAGE",
		Action: func(c *urfave.Context) error {
			text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if text == "" && !fdTerminal(c.App.Reader) {
				data, err := io.ReadAll(c.App.Reader)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}
			if text == "" {
				return ErrMissingArgument("message", `chatterm ask "What is a goroutine?"`)
			}

			return a.withRuntime(c, func(rt *Runtime) error {
				shell := NewShell(rt.Controller, c.App.Writer, c.App.ErrWriter)
				return shell.Ask(c.Context, text)
			})
		},
	}
}

// =============================================================================
// HISTORY AND CLEAR
// =============================================================================

func (a *app) historyCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "history",
		Usage: "Show or export the stored conversation",
		Flags: []urfave.Flag{
			&urfave.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output `FORMAT`: text, md or json",
				Value:   "text",
			},
			&urfave.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to `FILE` instead of stdout",
			},
		},
		Action: func(c *urfave.Context) error {
			format := strings.ToLower(c.String("format"))
			var export storage.ExportFormat
			if format != "text" {
				f, err := storage.ParseExportFormat(format)
				if err != nil {
					return &UsageError{Reason: err.Error(), Example: "chatterm history --format json"}
				}
				export = f
			}

			return a.withRuntime(c, func(rt *Runtime) error {
				shell := NewShell(rt.Controller, c.App.Writer, c.App.ErrWriter)
				if export == "" {
					if c.String("output") != "" {
						return &UsageError{Reason: "--output needs --format md or json"}
					}
					printHistory(c.App.Writer, rt.Controller.Snapshot(), outputWidth(c.App.Writer))
					return nil
				}
				return shell.export(export, c.String("output"))
			})
		},
	}
}

func (a *app) clearCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "clear",
		Usage: "Delete the stored conversation",
		Action: func(c *urfave.Context) error {
			return a.withRuntime(c, func(rt *Runtime) error {
				rt.Controller.Clear()
				fmt.Fprintln(c.App.Writer, SuccessStyle.Render("[Conversation cleared]"))
				return nil
			})
		},
	}
}

// =============================================================================
// VERSION
// =============================================================================

func versionCommand() *urfave.Command {
	return &urfave.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *urfave.Context) error {
			fmt.Fprintln(c.App.Writer, VersionString())
			return nil
		},
	}
}

// VersionString describes the build.
func VersionString() string {
	built := BuildDate
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		built = t.Format("2006-01-02")
	}
	return fmt.Sprintf("chatterm %s (commit %s, built %s) %s %s/%s",
		Version, GitCommit, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
