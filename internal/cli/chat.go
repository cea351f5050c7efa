// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for streamchat.
//
// Command: chat (default)
//
// Examples:
//   streamchat                        Resume the last conversation
//   streamchat chat --model m1 --new  Fresh conversation on model m1
//   streamchat chat --conversation 2  Resume the second listed conversation
//
// Responses stream into the terminal as tokens arrive. Ctrl+C while a
// response is streaming stops it; Ctrl+C or Ctrl+D at the prompt exits.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/store"
	"github.com/jeranaias/streamchat/internal/stream"
	"github.com/jeranaias/streamchat/internal/util"
)

// HistoryFileName holds REPL input history inside the data directory.
const HistoryFileName = "chat_history"

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
// USABILITY: Supports arrow keys for history navigation and line editing.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor backed by historyFile.
func NewChatCLI(historyFile string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, historyFile: historyFile}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
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

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
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
// STREAM PRINTER
// =============================================================================

// streamPrinter follows store changes and writes the growing tail of the
// assistant message being streamed into one conversation.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	convID  string
	printed int
	active  bool
}

func (p *streamPrinter) begin(convID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.convID, p.printed, p.active = convID, 0, true
}

func (p *streamPrinter) end() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
	return p.printed
}

func (p *streamPrinter) onChange(ch store.Change) {
	if ch.Kind != store.ChangeUpdated || ch.Conversation == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || ch.ID != p.convID {
		return
	}
	last := ch.Conversation.LastMessage()
	if last == nil || last.Role != model.RoleAssistant {
		return
	}
	if len(last.Content) > p.printed {
		io.WriteString(p.out, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

// =============================================================================
// REPL
// =============================================================================

// REPL executes chat input lines against an orchestrator.
type REPL struct {
	orch    *chat.Orchestrator
	out     io.Writer
	printer *streamPrinter
	unsub   func()
	width   int
	now     func() time.Time
}

// NewREPL creates a REPL writing to out. Call Close to detach it from the
// store.
func NewREPL(orch *chat.Orchestrator, out io.Writer) *REPL {
	r := &REPL{
		orch:    orch,
		out:     out,
		printer: &streamPrinter{out: out},
		width:   DefaultTerminalWidth,
		now:     time.Now,
	}
	r.unsub = orch.Store().Subscribe(r.printer.onChange)
	return r
}

// WithWidth sets the wrap width of history output.
func (r *REPL) WithWidth(w int) *REPL {
	if w > 0 {
		r.width = w
	}
	return r
}

// Close detaches the REPL from the store.
func (r *REPL) Close() {
	r.unsub()
}

// Prompt returns the input prompt, naming the selected model.
func (r *REPL) Prompt() string {
	m := r.orch.Model()
	if m == "" {
		m = "no model"
	}
	return PromptStyle.Render(fmt.Sprintf("[%s]> ", m))
}

// Execute runs one input line. quit reports whether the session should end.
func (r *REPL) Execute(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case strings.HasPrefix(line, "/"):
		name, rest := splitCommand(line)
		return r.command(ctx, name, rest)
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
		return true, nil
	default:
		return false, r.send(ctx, line)
	}
}

func (r *REPL) command(ctx context.Context, name, rest string) (bool, error) {
	switch name {
	case "help", "h", "?":
		r.printHelp()
	case "quit", "q", "exit":
		return true, nil
	case "new", "n":
		c, err := r.orch.NewConversation()
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Started"), c.Title)
	case "list", "ls":
		r.printList()
	case "switch", "s":
		return false, r.switchTo(rest)
	case "delete", "rm":
		return false, r.delete(rest)
	case "rename":
		return false, r.rename(rest)
	case "system":
		return false, r.system(rest)
	case "model", "m":
		return false, r.model(rest)
	case "models":
		return false, r.listModels(ctx)
	case "history", "show":
		return false, r.printHistory()
	case "edit", "e":
		return false, r.edit(ctx, rest)
	case "regen", "retry", "r":
		return false, r.regenerate(ctx, rest)
	case "stop":
		r.orch.Stop()
	case "export":
		return false, r.export(ctx)
	default:
		return false, &UsageError{Reason: fmt.Sprintf("unknown command /%s (try /help)", name), Usage: "/help"}
	}
	return false, nil
}

// =============================================================================
// STREAMING TRIGGERS
// =============================================================================

func (r *REPL) send(ctx context.Context, text string) error {
	id := r.orch.ActiveID()
	if id == "" {
		c, err := r.orch.NewConversation()
		if err != nil {
			return err
		}
		id = c.ID
	}

	r.printer.begin(id)
	f, err := r.orch.Send(ctx, id, text)
	if err != nil {
		r.printer.end()
		return err
	}
	return r.follow(f)
}

func (r *REPL) edit(ctx context.Context, rest string) error {
	c, err := r.orch.ActiveConversation()
	if err != nil {
		return err
	}
	ref, text, _ := strings.Cut(rest, " ")
	n, err := ParseIntWithValidation(ref, "message number")
	if err != nil {
		return &UsageError{Reason: err.Error(), Usage: "/edit N TEXT"}
	}
	if strings.TrimSpace(text) == "" {
		return &UsageError{Reason: "replacement text is required", Usage: "/edit N TEXT"}
	}

	r.printer.begin(c.ID)
	f, err := r.orch.Edit(ctx, c.ID, n-1, text)
	if err != nil {
		r.printer.end()
		return err
	}
	if f == nil {
		r.printer.end()
		fmt.Fprintln(r.out, DimStyle.Render("Message unchanged."))
		return nil
	}
	return r.follow(f)
}

func (r *REPL) regenerate(ctx context.Context, rest string) error {
	c, err := r.orch.ActiveConversation()
	if err != nil {
		return err
	}

	k := len(c.Messages) - 1
	if rest != "" {
		n, err := ParseIntWithValidation(rest, "message number")
		if err != nil {
			return &UsageError{Reason: err.Error(), Usage: "/regen [N]"}
		}
		k = n - 1
	}

	r.printer.begin(c.ID)
	f, err := r.orch.Regenerate(ctx, c.ID, k)
	if err != nil {
		r.printer.end()
		return err
	}
	return r.follow(f)
}

// follow blocks until f settles. Tokens are written by the printer as
// they land in the store.
func (r *REPL) follow(f *stream.Flight) error {
	start := r.now()
	state := f.Wait()
	printed := r.printer.end()
	if printed > 0 {
		fmt.Fprintln(r.out)
	}

	switch state {
	case stream.StateCompleted:
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("(%d tokens, %s)", f.Tokens(), formatDurationShort(r.now().Sub(start)))))
		return nil
	case stream.StateAborted:
		if errors.Is(f.Cause(), stream.ErrUserStop) {
			fmt.Fprintln(r.out, WarningStyle.Render("[Stopped]"))
		}
		return nil
	default:
		return f.Err()
	}
}

// =============================================================================
// CONVERSATION COMMANDS
// =============================================================================

func (r *REPL) printList() {
	convs := r.orch.Conversations()
	if len(convs) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("No conversations yet."))
		return
	}
	writeConversationTable(r.out, convs, r.orch.ActiveID(), r.width, r.now())
}

func (r *REPL) switchTo(ref string) error {
	if ref == "" {
		return &UsageError{Reason: "conversation number or id is required", Usage: "/switch N|ID"}
	}
	id, err := resolveConversation(r.orch.Conversations(), ref)
	if err != nil {
		return err
	}
	if err := r.orch.Select(id); err != nil {
		return err
	}
	c, err := r.orch.ActiveConversation()
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s (%d messages)\n", SuccessStyle.Render("Switched to"), c.Title, len(c.Messages))
	return nil
}

func (r *REPL) delete(ref string) error {
	id := r.orch.ActiveID()
	if ref != "" {
		var err error
		if id, err = resolveConversation(r.orch.Conversations(), ref); err != nil {
			return err
		}
	}
	if id == "" {
		return chat.ErrNotFound
	}
	if err := r.orch.Delete(id); err != nil {
		return err
	}
	fmt.Fprintln(r.out, SuccessStyle.Render("Deleted."))
	return nil
}

func (r *REPL) rename(title string) error {
	id := r.orch.ActiveID()
	if id == "" {
		return chat.ErrNotFound
	}
	if err := r.orch.Rename(id, title); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Renamed to"), strings.TrimSpace(title))
	return nil
}

func (r *REPL) system(prompt string) error {
	c, err := r.orch.ActiveConversation()
	if err != nil {
		return err
	}
	switch prompt {
	case "":
		if c.SystemPrompt == "" {
			fmt.Fprintln(r.out, DimStyle.Render("No system prompt."))
		} else {
			fmt.Fprintln(r.out, WrapText(c.SystemPrompt, r.width))
		}
		return nil
	case "-":
		prompt = ""
	}
	if err := r.orch.SetSystemPrompt(c.ID, prompt); err != nil {
		return err
	}
	if prompt == "" {
		fmt.Fprintln(r.out, SuccessStyle.Render("System prompt cleared."))
	} else {
		fmt.Fprintln(r.out, SuccessStyle.Render("System prompt set."))
	}
	return nil
}

func (r *REPL) export(ctx context.Context) error {
	id := r.orch.ActiveID()
	if id == "" {
		return chat.ErrNotFound
	}
	url, err := r.orch.Export(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Shared at"), url)
	return nil
}

func (r *REPL) printHistory() error {
	c, err := r.orch.ActiveConversation()
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, TitleStyle.Render(c.Title))
	if c.SystemPrompt != "" {
		fmt.Fprintln(r.out, DimStyle.Render("system: "+util.TruncateRunes(util.SingleLine(c.SystemPrompt), 60)))
	}
	if len(c.Messages) == 0 {
		fmt.Fprintln(r.out, DimStyle.Render("(empty)"))
		return nil
	}
	for i, m := range c.Messages {
		fmt.Fprintf(r.out, "%s %s\n", DimStyle.Render(fmt.Sprintf("[%d]", i+1)), RenderRole(string(m.Role)))
		fmt.Fprintln(r.out, WrapText(m.Content, r.width))
	}
	return nil
}

// =============================================================================
// MODEL COMMANDS
// =============================================================================

func (r *REPL) model(name string) error {
	if name == "" {
		current := r.orch.Model()
		if current == "" {
			current = "(none)"
		}
		fmt.Fprintf(r.out, "Model: %s\n", HighlightStyle.Render(current))
		return nil
	}
	if err := r.orch.SelectModel(name); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s %s\n", SuccessStyle.Render("Using"), name)
	return nil
}

// listModels refreshes the model list from the backend and prints it.
func (r *REPL) listModels(ctx context.Context) error {
	if err := r.orch.LoadModels(ctx); err != nil {
		return err
	}
	writeModelList(r.out, r.orch.Models(), r.orch.Model())
	return nil
}

func writeModelList(w io.Writer, models []string, current string) {
	for _, m := range models {
		if m == current {
			fmt.Fprintf(w, "%s%s\n", HighlightStyle.Render("* "), m)
		} else {
			fmt.Fprintf(w, "  %s\n", m)
		}
	}
}

func (r *REPL) printHelp() {
	fmt.Fprintln(r.out, TitleStyle.Render("Chat commands"))
	for _, line := range [][2]string{
		{"/new", "Start a new conversation"},
		{"/list", "List conversations"},
		{"/switch N|ID", "Switch conversation"},
		{"/delete [N|ID]", "Delete a conversation (default: current)"},
		{"/rename TITLE", "Rename the current conversation"},
		{"/system [PROMPT|-]", "Show, set or clear the system prompt"},
		{"/model [NAME]", "Show or switch model"},
		{"/models", "Refresh and list models"},
		{"/history", "Show the current conversation"},
		{"/edit N TEXT", "Replace message N and resubmit"},
		{"/regen [N]", "Regenerate response N (default: last)"},
		{"/stop", "Stop the current response"},
		{"/export", "Publish the conversation and print its link"},
		{"/quit", "Exit"},
	} {
		fmt.Fprintf(r.out, "  %s %s\n", util.PadWidth(line[0], 20), DimStyle.Render(line[1]))
	}
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive chat session.
func HandleChat(ctx context.Context, args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	dir, err := cfg.DataDir()
	if err != nil {
		return &CommandError{Command: "chat", Action: "locate data directory", Err: err}
	}
	logFile, err := openLogFile(dir)
	if err != nil {
		return &CommandError{Command: "chat", Action: "open log file", Err: err}
	}
	defer logFile.Close()
	logger := newLogger(cfg, logFile)

	st, err := openState(cfg, logger)
	if err != nil {
		return &CommandError{Command: "chat", Action: "open storage", Err: err}
	}
	orch := newSession(cfg, newClient(cfg, logger), st, logger, nil)
	defer orch.Close()

	// A model failure leaves restored conversations usable.
	if err := orch.Bootstrap(ctx); err != nil {
		DisplayError(os.Stderr, err)
	}
	if args.Model != "" {
		if err := orch.SelectModel(args.Model); err != nil {
			return err
		}
	}
	switch {
	case args.New:
		if _, err := orch.NewConversation(); err != nil {
			return err
		}
	case args.Conv != "":
		id, err := resolveConversation(orch.Conversations(), args.Conv)
		if err != nil {
			return err
		}
		if err := orch.Select(id); err != nil {
			return err
		}
	}

	repl := NewREPL(orch, os.Stdout).WithWidth(GetTerminalWidth() - 2)
	defer repl.Close()

	input := NewChatCLI(filepath.Join(dir, HistoryFileName))
	defer input.Close()

	// While a response streams the terminal is in cooked mode, so Ctrl+C
	// arrives as SIGINT. At the prompt liner reports it instead.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			orch.Stop()
		}
	}()

	printWelcome(os.Stdout, orch)

	for {
		line, err := input.ReadInput(repl.Prompt())
		if err != nil {
			// Ctrl+C, Ctrl+D or closed stdin
			fmt.Println()
			return nil
		}
		quit, err := repl.Execute(ctx, line)
		if err != nil {
			DisplayError(os.Stderr, err)
		}
		if quit {
			return nil
		}
	}
}

func printWelcome(w io.Writer, orch *chat.Orchestrator) {
	fmt.Fprintln(w, TitleStyle.Render("streamchat "+Version))
	if c, err := orch.ActiveConversation(); err == nil {
		fmt.Fprintf(w, "%s %s (%d messages)\n", DimStyle.Render("Conversation:"), c.Title, len(c.Messages))
	}
	fmt.Fprintln(w, DimStyle.Render("Type /help for commands. Ctrl+C stops a response, Ctrl+D exits."))
	fmt.Fprintln(w, RenderSeparatorAdaptive())
}
