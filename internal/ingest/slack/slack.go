// Package slack ingests prompts from Slack via Socket Mode
// (message.source="slack"): @mentions of the bot become queued prompts,
// and the bot acknowledges or reports errors back into the same thread.
package slack

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// PromptSubmission is the subset of store.Message the bot fills in when it
// turns a Slack mention into a queued prompt. Defined here rather than
// imported from package store, so this package stays free of storage
// concerns (the same decoupling internal/queue uses for its own Message).
type PromptSubmission struct {
	AuthorID string
	Content  string
}

// Submitter enqueues an ingested prompt and reports its queue position.
// internal/coordinator implements this over the per-session store.
type Submitter interface {
	Submit(ctx context.Context, msg PromptSubmission) (position int, err error)
}

// threadPoster posts a reply into a channel thread. Narrowed to this one
// operation (rather than embedding *slack.Client directly) so tests can
// substitute a fake without a network.
type threadPoster interface {
	PostThreadMessage(channel, threadTS, text string) error
}

// slackPoster adapts *slack.Client to threadPoster.
type slackPoster struct {
	client *slack.Client
}

func (p *slackPoster) PostThreadMessage(channel, threadTS, text string) error {
	_, _, err := p.client.PostMessage(channel, slack.MsgOptionText(text, false), slack.MsgOptionTS(threadTS))
	return err
}

// Bot is the Slack Socket Mode bot for a single session instance. One
// coordinator process hosts one session, so the bot needs no channel→session
// lookup: every mention on the configured channel is a prompt for this
// session.
type Bot struct {
	api          threadPoster
	socketClient *socketmode.Client
	channel      string // restricts ingestion to this channel; empty means any
	submitter    Submitter
}

// NewBot creates a Slack Socket Mode bot bound to one session's Submitter.
// channel, if non-empty, restricts ingestion to mentions posted in that
// channel; mentions elsewhere are acknowledged but ignored.
func NewBot(botToken, appToken, channel string, submitter Submitter) *Bot {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socketClient := socketmode.New(
		api,
		socketmode.OptionLog(log.New(log.Writer(), "slack-socketmode: ", log.LstdFlags)),
	)

	return &Bot{
		api:          &slackPoster{client: api},
		socketClient: socketClient,
		channel:      channel,
		submitter:    submitter,
	}
}

// Run connects to Slack via Socket Mode and processes events. It blocks
// until ctx is canceled or the socket client returns a fatal error.
func (b *Bot) Run(ctx context.Context) error {
	go b.eventLoop(ctx)
	slog.Info("slack bot connecting via socket mode")
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
		slog.Info("slack: connecting")
	case socketmode.EventTypeConnected:
		slog.Info("slack: connected")
	case socketmode.EventTypeConnectionError:
		slog.Warn("slack: connection error, will retry")
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Slack requires acknowledgement within 3 seconds.
		b.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type == slackevents.CallbackEvent {
			b.handleCallbackEvent(ctx, eventsAPIEvent.InnerEvent)
		}
	case socketmode.EventTypeInteractive:
		b.socketClient.Ack(*evt.Request)
	}
}

func (b *Bot) handleCallbackEvent(ctx context.Context, inner slackevents.EventsAPIInnerEvent) {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		go b.handleMention(ctx, ev)
	}
}

// handleMention strips the bot mention from the message text, submits the
// remainder as a prompt, and replies in-thread with the queue position or
// an error.
func (b *Bot) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	threadTS := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadTS = ev.ThreadTimeStamp
	}

	if b.channel != "" && ev.Channel != b.channel {
		b.postThread(ev.Channel, threadTS, "This channel isn't bound to a session; ignoring.")
		return
	}

	content := stripMention(ev.Text)
	if content == "" {
		b.postThread(ev.Channel, threadTS, "Please include a prompt after the mention.")
		return
	}

	position, err := b.submitter.Submit(ctx, PromptSubmission{
		AuthorID: "slack:" + ev.User,
		Content:  content,
	})
	if err != nil {
		slog.Error("slack: submitting prompt failed", slog.Any("error", err))
		b.postThread(ev.Channel, threadTS, fmt.Sprintf(":x: Couldn't queue that prompt: %s", err))
		return
	}

	b.postThread(ev.Channel, threadTS, fmt.Sprintf(":white_check_mark: Queued (position %d).", position))
}

// stripMention removes a leading "<@U12345>" bot mention from text.
func stripMention(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, ">"); idx >= 0 && strings.HasPrefix(text, "<@") {
		return strings.TrimSpace(text[idx+1:])
	}
	return strings.TrimSpace(text)
}

func (b *Bot) postThread(channel, threadTS, text string) {
	if err := b.api.PostThreadMessage(channel, threadTS, text); err != nil {
		slog.Error("slack: posting thread reply failed", slog.Any("error", err))
	}
}
