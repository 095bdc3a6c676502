// Package telegram provides a Telegram front-end for BotForge.
//
// Uses long polling, so no public URL or webhook is needed. Each chat owns
// one workspace; build progress is posted back to the chat and the finished
// project is uploaded as a zip document.
package telegram

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/jxucoder/botforge/channel"
)

// maxMessageLen is Telegram's limit for one text message.
const maxMessageLen = 4096

// Bot is the Telegram bot for BotForge.
type Bot struct {
	api    *tgbotapi.BotAPI
	router *channel.Router
}

// NewBot creates a new Telegram bot.
func NewBot(token string, router *channel.Router) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized as @%s", api.Self.UserName)

	return &Bot{api: api, router: router}, nil
}

// Name implements channel.Channel.
func (b *Bot) Name() string { return "telegram" }

// Run starts the long-polling loop. Blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	log.Println("Telegram bot listening for messages...")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				go b.handleMessage(ctx, update.Message)
			}
		}
	}
}

// handleMessage processes an incoming message.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	chatID := msg.Chat.ID
	b.router.Handle(ctx, strconv.FormatInt(chatID, 10), text, &replier{api: b.api, chatID: chatID})
}

// replier posts plain text and documents to one chat.
type replier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func (r *replier) Reply(text string) {
	for _, part := range splitMessage(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(r.chatID, part)
		if _, err := r.api.Send(msg); err != nil {
			log.Printf("Telegram: failed to send message: %v", err)
			return
		}
	}
}

func (r *replier) ReplyDocument(name string, data []byte, caption string) {
	doc := tgbotapi.NewDocument(r.chatID, tgbotapi.FileBytes{
		Name:  name,
		Bytes: data,
	})
	doc.Caption = caption

	if _, err := r.api.Send(doc); err != nil {
		log.Printf("Telegram: failed to upload %s: %v", name, err)
		r.Reply(fmt.Sprintf("Could not upload %s. Download it from the web UI instead.", name))
	}
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// line boundaries.
func splitMessage(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit], '\n')
		if cut <= 0 {
			cut = limit
		}
		parts = append(parts, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
