// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// list.go - The "list" and "models" commands.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/streamchat/internal/chat"
)

// conversationSummary is the JSON form of one listed conversation.
type conversationSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
	Active    bool      `json:"active"`
}

// HandleList prints saved conversations without contacting the backend.
func HandleList(args Args, w io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	st, err := openState(cfg, zerolog.Nop())
	if err != nil {
		return &CommandError{Command: "list", Action: "open storage", Err: err}
	}
	defer st.Close()

	convs := st.LoadConversations()
	activeID := st.LoadActiveID()

	if args.JSON {
		out := make([]conversationSummary, 0, len(convs))
		for _, c := range convs {
			out = append(out, conversationSummary{
				ID:        c.ID,
				Title:     c.Title,
				Model:     c.ModelUsed,
				Messages:  len(c.Messages),
				UpdatedAt: c.UpdatedAt,
				Active:    c.ID == activeID,
			})
		}
		return outputJSON(w, out)
	}

	if len(convs) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No saved conversations."))
		return nil
	}
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Conversations (%d)", len(convs))))
	writeConversationTable(w, convs, activeID, GetTerminalWidth(), time.Now())
	return nil
}

// HandleModels asks the backend for its models and marks the saved choice.
func HandleModels(ctx context.Context, args Args, w io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Client.RequestTimeout)
	defer cancel()
	models, err := newClient(cfg, zerolog.Nop()).Models(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		return chat.ErrNoModels
	}

	current := ""
	if st, err := openState(cfg, zerolog.Nop()); err == nil {
		current = st.LoadModel()
		st.Close()
	}

	if args.JSON {
		return outputJSON(w, struct {
			Models  []string `json:"models"`
			Current string   `json:"current,omitempty"`
		}{models, current})
	}
	writeModelList(w, models, current)
	return nil
}
