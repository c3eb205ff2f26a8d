// Package telegram answers related-market lookups from a Telegram bot.
//
// Supported commands:
//
//	/related <market_id>   markets related to one market
//	/similar <event_slug>  markets similar to a whole event
//
// Replies use MarkdownV2 and are retried on transient send failures.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/related"
)

// Lookup is the resolver surface the bot needs.
type Lookup interface {
	Resolve(ctx context.Context, sel related.Selector, req related.Request) (*related.Response, error)
	SimilarByEvent(ctx context.Context, eventKey string, limit int) (*related.EventResponse, error)
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram commands
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	lookup         Lookup
	limit          int
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken string, lookup Lookup, limit, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, bot, lookup, limit, maxRetries, retryDelayBase), nil
}

func newClient(bot *tgbotapi.BotAPI, s sender, lookup Lookup, limit, maxRetries int, retryDelayBase time.Duration) *Client {
	if limit <= 0 {
		limit = 10
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		sender:         s,
		lookup:         lookup,
		limit:          limit,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// ListenForCommands polls for updates until ctx is cancelled. It returns immediately.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil || !update.Message.IsCommand() {
					continue
				}
				reply := c.handleCommand(ctx, update.Message.Command(), update.Message.CommandArguments())
				if err := c.send(update.Message.Chat.ID, reply); err != nil {
					logger.Warn("Failed to reply to /%s: %v", update.Message.Command(), err)
				}
			}
		}
	}()
	logger.Info("Listening for Telegram commands")
}

// handleCommand returns the MarkdownV2 reply for one command.
func (c *Client) handleCommand(ctx context.Context, command, args string) string {
	arg := strings.TrimSpace(args)
	switch command {
	case "related":
		if arg == "" {
			return escapeMarkdownV2("Usage: /related <market_id>")
		}
		resp, err := c.lookup.Resolve(ctx, related.Selector{MarketID: arg}, related.Request{Limit: c.limit})
		if err != nil {
			logger.Error("Telegram /related %s failed: %v", arg, err)
			return escapeMarkdownV2("Lookup failed, try again later.")
		}
		if resp.Message != "" {
			return escapeMarkdownV2(resp.Message)
		}
		return formatRelated(resp.Source.Question, resp.Related)
	case "similar":
		if arg == "" {
			return escapeMarkdownV2("Usage: /similar <event_slug>")
		}
		resp, err := c.lookup.SimilarByEvent(ctx, arg, c.limit)
		if err != nil {
			logger.Error("Telegram /similar %s failed: %v", arg, err)
			return escapeMarkdownV2("Lookup failed, try again later.")
		}
		if resp.Message != "" {
			return escapeMarkdownV2(resp.Message)
		}
		return formatRelated("Event "+arg, resp.Related)
	case "start", "help":
		return escapeMarkdownV2("Commands:\n/related <market_id>\n/similar <event_slug>")
	default:
		return escapeMarkdownV2("Unknown command: /" + command)
	}
}

func (c *Client) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatRelated renders a titled, numbered list of related markets.
func formatRelated(title string, results []models.RelatedResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔗 *Related to:* %s\n\n", escapeMarkdownV2(title))
	if len(results) == 0 {
		b.WriteString(escapeMarkdownV2("No related markets found."))
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "%d\\. %s\n", i+1, escapeMarkdownV2(r.Question))
		fmt.Fprintf(&b, "   %s · %s\n",
			escapeMarkdownV2(string(r.Type)),
			escapeMarkdownV2(fmt.Sprintf("%.0f%%", r.Strength*100)))
		if r.Description != "" {
			fmt.Fprintf(&b, "   _%s_\n", escapeMarkdownV2(r.Description))
		}
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
