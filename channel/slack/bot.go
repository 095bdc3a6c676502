// Package slack provides a Slack front-end for BotForge using Socket Mode.
//
// Socket Mode connects to Slack via WebSocket, so no public URL is needed.
// The bot listens for @mentions carrying the same commands as the Telegram
// front-end, keeps one workspace per thread, posts progress in the thread, and
// uploads the finished project as a zip file.
package slack

import (
	"bytes"
	"context"
	"log"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/jxucoder/botforge/channel"
)

// Bot is the Slack Socket Mode bot for BotForge.
type Bot struct {
	api          *slack.Client
	socketClient *socketmode.Client
	router       *channel.Router
}

// NewBot creates a new Slack Socket Mode bot.
func NewBot(botToken, appToken string, router *channel.Router) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          api,
		socketClient: socketClient,
		router:       router,
	}
}

// Name implements channel.Channel.
func (b *Bot) Name() string { return "slack" }

// Run connects to Slack via Socket Mode and processes events.
// It blocks until the context is canceled or a fatal error occurs.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	log.Println("Slack bot connecting via Socket Mode...")
	return b.socketClient.RunContext(ctx)
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socketClient.Events:
			if !ok {
				return
			}
			b.handleEvent(ctx, evt)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		log.Println("Slack: connecting...")
	case socketmode.EventTypeConnected:
		log.Println("Slack: connected")
	case socketmode.EventTypeConnectionError:
		log.Println("Slack: connection error, will retry...")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Slack requires an ack within 3 seconds.
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
			go b.handleMention(ctx, ev)
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	text := stripMention(ev.Text)

	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}
	reply := &replier{api: b.api, channel: ev.Channel, threadTS: threadTS}

	if text == "" {
		reply.Reply(channel.HelpText)
		return
	}
	b.router.Handle(ctx, ev.Channel+"/"+threadTS, text, reply)
}

// stripMention removes the leading <@U12345> bot mention.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<@") {
		if idx := strings.Index(text, ">"); idx >= 0 {
			text = text[idx+1:]
		}
	}
	return strings.TrimSpace(text)
}

// replier posts into one Slack thread.
type replier struct {
	api      *slack.Client
	channel  string
	threadTS string
}

func (r *replier) Reply(text string) {
	_, _, err := r.api.PostMessage(r.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(r.threadTS),
	)
	if err != nil {
		log.Printf("Slack: failed to post message to %s: %v", r.channel, err)
	}
}

func (r *replier) ReplyDocument(name string, data []byte, caption string) {
	_, err := r.api.UploadFileV2(slack.UploadFileV2Parameters{
		Reader:          bytes.NewReader(data),
		Filename:        name,
		FileSize:        len(data),
		Title:           caption,
		Channel:         r.channel,
		ThreadTimestamp: r.threadTS,
	})
	if err != nil {
		log.Printf("Slack: failed to upload %s: %v", name, err)
		r.Reply(":x: Could not upload " + name + ". Download it from the web UI instead.")
	}
}
