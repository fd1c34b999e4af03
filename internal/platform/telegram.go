package platform

import (
	"context"
	"strconv"
	"strings"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Telegram posts through the bot service and checks liveness on public embed pages.
type Telegram struct {
	bot    *BotClient
	embeds *EmbedProber
	log    *zap.Logger
}

func NewTelegram(bot *BotClient, embeds *EmbedProber, log *zap.Logger) *Telegram {
	return &Telegram{bot: bot, embeds: embeds, log: log}
}

// ContentRef is "<channel username>/<message id>", the same path t.me uses for a post.
func ContentRef(username string, messageID int64) string {
	return username + "/" + strconv.FormatInt(messageID, 10)
}

func ParseContentRef(ref string) (string, int64, error) {
	username, id, ok := strings.Cut(ref, "/")
	if !ok || username == "" {
		return "", 0, errors.Errorf("malformed content ref %q", ref)
	}
	messageID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || messageID <= 0 {
		return "", 0, errors.Errorf("malformed content ref %q", ref)
	}
	return username, messageID, nil
}

func (t *Telegram) Publish(ctx context.Context, ch *models.Channel, creative models.Creative) (string, error) {
	res, err := t.bot.PostCreative(ctx, ch.ExternalRef, PostRequest{
		Text:        creative.Text,
		ImageRef:    creative.ImageRef,
		LinkURL:     creative.LinkURL,
		ButtonLabel: creative.ButtonLabel,
	})
	if err != nil {
		return "", err
	}
	ref := ContentRef(ch.ExternalRef, res.MessageID)
	t.log.Info("creative published", zap.String("channel", ch.ExternalRef), zap.String("post_ref", ref))
	return ref, nil
}

func (t *Telegram) ProbeLiveness(ctx context.Context, ch *models.Channel, contentRef string) (models.Liveness, error) {
	username, messageID, err := ParseContentRef(contentRef)
	if err != nil {
		return models.LivenessIndeterminate, err
	}
	snap, err := t.embeds.FetchPost(ctx, username, messageID)
	if err != nil {
		return models.LivenessIndeterminate, err
	}
	if snap.Views != nil {
		t.log.Debug("post views", zap.String("post_ref", contentRef), zap.Int("views", *snap.Views))
	}
	return snap.Liveness, nil
}

// CheckPostingRights is revoked when the bot lost admin or posting rights, or the channel is
// gone. Transport failures are indeterminate.
func (t *Telegram) CheckPostingRights(ctx context.Context, ch *models.Channel) (models.PostingRights, error) {
	rights, err := t.bot.GetBotRights(ctx, ch.ExternalRef)
	if errors.Is(err, ErrChannelUnknown) {
		return models.PostingRightsRevoked, nil
	}
	if err != nil {
		return models.PostingRightsIndeterminate, err
	}
	if !rights.IsAdmin || !rights.CanPostMessages {
		return models.PostingRightsRevoked, nil
	}
	return models.PostingRightsGranted, nil
}
