// quizmaster-ai - An AI study tutor for question banks, in your terminal.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"

	"github.com/kmgcc/quizmaster-ai/internal/bank"
	"github.com/kmgcc/quizmaster-ai/internal/batch"
	"github.com/kmgcc/quizmaster-ai/internal/config"
	"github.com/kmgcc/quizmaster-ai/internal/model"
	"github.com/kmgcc/quizmaster-ai/internal/pipeline"
	"github.com/kmgcc/quizmaster-ai/internal/prompt"
	"github.com/kmgcc/quizmaster-ai/internal/provider"
	"github.com/kmgcc/quizmaster-ai/internal/store"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)

	stemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true)
)

// =============================================================================
// INPUT
// =============================================================================

// tutorCLI provides input history and line editing for the tutor REPL.
type tutorCLI struct {
	line        *liner.State
	historyFile string
}

func newTutorCLI() *tutorCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		// Fall back to the temp directory if the home lookup fails.
		dir = os.TempDir()
	}
	c := &tutorCLI{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// readInput reads one line, recording non-blank input in history.
func (c *tutorCLI) readInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *tutorCLI) close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// RENDERER
// =============================================================================

// renderer prints streamed assistant text incrementally. It tracks how much
// of the in-flight answer has been written so each update appends only the
// unseen suffix.
type renderer struct {
	mu      sync.Mutex
	printed int
	active  bool
}

// onUpdate is the pipeline's update callback.
func (r *renderer) onUpdate(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Status != model.StatusStreaming {
		return
	}
	if !r.active {
		r.active = true
		r.printed = 0
	}
	if len(last.Text) > r.printed {
		fmt.Print(last.Text[r.printed:])
		r.printed = len(last.Text)
	}
}

// finish flushes the tail of the final message and resets for the next turn.
func (r *renderer) finish(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Status == model.StatusError {
			if r.printed > 0 {
				fmt.Println()
			}
			fmt.Println(errorStyle.Render(last.Text))
		} else if len(last.Text) > r.printed {
			fmt.Print(last.Text[r.printed:])
		}
	}
	if r.active || r.printed > 0 {
		fmt.Println()
	}
	r.printed = 0
	r.active = false
}

// =============================================================================
// MAIN
// =============================================================================

func main() {
	var (
		bankPath   = flag.String("bank", "", "path to a question bank TOML file (required)")
		questionID = flag.String("question", "", "question ID to discuss (default: first in bank)")
		configPath = flag.String("config", "", "path to config file (default: ~/.quizmaster/config.toml)")
		sessions   = flag.Bool("sessions", false, "list stored conversations for the bank and exit")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
		version    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("quizmaster-ai %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if *sessions {
		if err := listSessions(*bankPath, *configPath); err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
			os.Exit(1)
		}
		return
	}

	if err := run(*bankPath, *questionID, *configPath, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func run(bankPath, questionID, configPath string, verbose bool) error {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if bankPath == "" {
		return errors.New("no question bank given, use -bank <file.toml>")
	}
	b, err := bank.Load(bankPath)
	if err != nil {
		return err
	}
	question := pickQuestion(b, questionID)
	if question == nil {
		return fmt.Errorf("question %q not found in bank %q", questionID, b.Meta.ID)
	}

	client := provider.NewClient(cfg.Provider.APIKey, log).
		WithBaseURL(cfg.Provider.BaseURL).
		WithModel(cfg.Provider.Model).
		WithTemperature(cfg.Provider.Temperature).
		WithTimeout(cfg.RequestTimeout())

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	mode := batch.Delta
	if cfg.Delivery.Mode == "snapshot" {
		mode = batch.Snapshot
	}

	persona := &prompt.Persona{
		Name:         cfg.Persona.Name,
		Instructions: cfg.Persona.Instructions,
		Language:     cfg.Persona.Language,
	}

	r := &renderer{}
	done := make(chan struct{}, 1)

	p := pipeline.New(b.Meta.ID, question.ID, pipeline.Options{
		Client:        client,
		Store:         st,
		Meta:          &b.Meta,
		Context:       &bank.QuestionContext{Question: *question},
		Persona:       persona,
		Mode:          mode,
		FlushInterval: cfg.FlushInterval(),
		OnUpdate:      r.onUpdate,
		OnComplete: func(msgs []model.Message) {
			r.finish(msgs)
			done <- struct{}{}
		},
		Logger: log,
	})
	defer p.Close()

	if err := p.Open(); err != nil {
		return err
	}

	printWelcome(b, question, client)
	printHistory(p.Messages())

	return repl(p, done)
}

// listSessions prints the stored conversations for a bank and exits.
func listSessions(bankPath, configPath string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFrom(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if bankPath == "" {
		return errors.New("no question bank given, use -bank <file.toml>")
	}
	b, err := bank.Load(bankPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	metas, err := st.List(b.Meta.ID)
	if err != nil {
		return err
	}
	if len(metas) == 0 {
		fmt.Println(infoStyle.Render("No stored conversations for " + b.Meta.Title))
		return nil
	}

	fmt.Println(welcomeStyle.Render("Conversations in " + b.Meta.Title))
	for _, m := range metas {
		when := time.UnixMilli(m.UpdatedAt).Format("2006-01-02 15:04")
		fmt.Printf("  %s  %s  %s\n",
			commandStyle.Render(fmt.Sprintf("%-12s", m.SubTopicID)),
			infoStyle.Render(fmt.Sprintf("%2d msgs, %s", m.MessageCount, when)),
			m.Preview)
	}
	return nil
}

// pickQuestion resolves the question under discussion: an explicit ID if
// given, otherwise the bank's first question.
func pickQuestion(b *bank.Bank, id string) *bank.Question {
	if id != "" {
		return b.FindQuestion(id)
	}
	if len(b.Questions) == 0 {
		return nil
	}
	return &b.Questions[0]
}

// =============================================================================
// REPL
// =============================================================================

func repl(p *pipeline.Pipeline, done <-chan struct{}) error {
	cli := newTutorCLI()
	defer cli.close()

	for {
		input, err := cli.readInput(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println(infoStyle.Render("bye"))
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			quit, err := handleCommand(p, done, input)
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		if err := exchange(p, done, func(ctx context.Context) error {
			return p.Send(ctx, input)
		}); err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
		}
	}
}

// exchange runs one send-or-retry and blocks until the answer completes.
func exchange(p *pipeline.Pipeline, done <-chan struct{}, start func(context.Context) error) error {
	// Drop any stale completion token from a previous fast exchange.
	select {
	case <-done:
	default:
	}

	if err := start(context.Background()); err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			return fmt.Errorf("no API key configured, set %s or provider.api_key in the config file", config.EnvAPIKey)
		}
		return err
	}
	if p.State() == pipeline.StateIdle {
		// Nothing started (blank input or no turn to retry).
		return nil
	}
	<-done
	return nil
}

// handleCommand dispatches a slash command. It returns true when the REPL
// should exit.
func handleCommand(p *pipeline.Pipeline, done <-chan struct{}, input string) (bool, error) {
	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/quit", "/q", "/exit":
		fmt.Println(infoStyle.Render("bye"))
		return true, nil

	case "/retry", "/r":
		return false, exchange(p, done, p.Retry)

	case "/clear", "/c":
		if err := p.Clear(); err != nil {
			return false, err
		}
		fmt.Println(infoStyle.Render("Conversation cleared."))
		printHistory(p.Messages())
		return false, nil

	case "/history":
		printHistory(p.Messages())
		return false, nil

	case "/help", "/h":
		printHelp()
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %q, try /help", input)
	}
}

// =============================================================================
// OUTPUT
// =============================================================================

func printWelcome(b *bank.Bank, q *bank.Question, client *provider.Client) {
	fmt.Println(welcomeStyle.Render("quizmaster-ai " + Version))
	fmt.Println(infoStyle.Render(fmt.Sprintf("Bank: %s | Model: %s", b.Meta.Title, client.Model())))
	fmt.Println()
	fmt.Println(stemStyle.Render(q.Stem))
	for _, opt := range q.Options {
		fmt.Println("  " + opt)
	}
	fmt.Println()
	fmt.Println(infoStyle.Render("Ask the tutor anything about this question. /help for commands."))
	fmt.Println()
}

func printHistory(msgs []model.Message) {
	for _, m := range msgs {
		label := m.Role.DisplayName()
		switch m.Status {
		case model.StatusError:
			fmt.Printf("%s %s\n", warningStyle.Render(label+":"), m.Text)
		default:
			fmt.Printf("%s %s\n", promptStyle.Render(label+":"), m.Text)
		}
	}
	fmt.Println()
}

func printHelp() {
	rows := [][2]string{
		{"/retry, /r", "Discard the last answer and ask the same question again"},
		{"/clear, /c", "Delete this conversation and start fresh"},
		{"/history", "Reprint the conversation so far"},
		{"/help, /h", "Show this help"},
		{"/quit, /q", "Exit"},
	}
	for _, row := range rows {
		fmt.Printf("  %s  %s\n", commandStyle.Render(fmt.Sprintf("%-12s", row[0])), row[1])
	}
	fmt.Println()
}
