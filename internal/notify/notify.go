// Package notify delivers push notifications for sessions nobody is
// watching. The Session Manager decides when a push is warranted; this
// package only delivers it through a configured channel.
package notify

import (
	"context"
	"fmt"

	slacklib "github.com/slack-go/slack"

	"github.com/rs/zerolog/log"
)

// SlackAPI abstracts the subset of the Slack client used by SlackNotifier.
// This allows testing without real HTTP calls.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slacklib.MsgOption) (string, string, error)
}

// SlackNotifier posts session pushes to a fixed Slack channel.
type SlackNotifier struct {
	api     SlackAPI
	channel string
}

// NewSlackNotifier creates a SlackNotifier posting to channel via api.
func NewSlackNotifier(api SlackAPI, channel string) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel}
}

// Push posts one notification message. The session id rides along as a
// context line so multiple sessions sharing a channel stay tellable
// apart.
func (n *SlackNotifier) Push(ctx context.Context, sessionID, title, body string) error {
	text := fmt.Sprintf("*%s*\n%s", title, body)
	blocks := []slacklib.Block{
		slacklib.NewSectionBlock(
			slacklib.NewTextBlockObject(slacklib.MarkdownType, text, false, false),
			nil,
			nil,
		),
		slacklib.NewContextBlock("",
			slacklib.NewTextBlockObject(slacklib.MarkdownType, "session `"+sessionID+"`", false, false),
		),
	}

	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slacklib.MsgOptionText(title, false),
		slacklib.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		return fmt.Errorf("notify.SlackNotifier.Push: %w", err)
	}
	return nil
}

// LogNotifier is the fallback used when no Slack channel is configured:
// pushes land in the structured log instead of disappearing.
type LogNotifier struct{}

// Push logs the notification.
func (LogNotifier) Push(_ context.Context, sessionID, title, body string) error {
	log.Info().Str("sessionId", sessionID).Str("title", title).Str("body", body).Msg("notify: push (no channel configured)")
	return nil
}
