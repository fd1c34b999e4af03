package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrChannelUnknown is returned when the bot service does not know the channel at all.
var ErrChannelUnknown = errors.New("channel unknown to bot service")

// BotClient communicates with the bot service internal API.
type BotClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewBotClient(baseURL, token string, log *zap.Logger) *BotClient {
	return &BotClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type PostRequest struct {
	Text        string  `json:"text"`
	ImageRef    *string `json:"image_ref,omitempty"`
	LinkURL     *string `json:"link_url,omitempty"`
	ButtonLabel *string `json:"button_label,omitempty"`
}

type PostResult struct {
	MessageID int64  `json:"message_id"`
	ChatID    int64  `json:"chat_id"`
	PostURL   string `json:"post_url"`
}

// PostCreative publishes a creative to the channel through the bot.
func (c *BotClient) PostCreative(ctx context.Context, channelUsername string, req PostRequest) (*PostResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/internal/channels/%s/posts", c.baseURL, url.PathEscape(channelUsername))
	var result PostResult
	if err := c.do(ctx, http.MethodPost, u, body, &result); err != nil {
		return nil, err
	}
	if result.MessageID <= 0 {
		return nil, errors.Errorf("bot service returned no message id for %s", channelUsername)
	}
	return &result, nil
}

type BotRights struct {
	IsAdmin         bool `json:"is_admin"`
	CanPostMessages bool `json:"can_post_messages"`
}

// GetBotRights reports the bot's own admin rights in the channel.
func (c *BotClient) GetBotRights(ctx context.Context, channelUsername string) (*BotRights, error) {
	u := fmt.Sprintf("%s/internal/channels/%s/bot_rights", c.baseURL, url.PathEscape(channelUsername))
	var rights BotRights
	if err := c.do(ctx, http.MethodGet, u, nil, &rights); err != nil {
		return nil, err
	}
	return &rights, nil
}

// SendNotification asks the bot to message a marketplace user about a deal.
func (c *BotClient) SendNotification(ctx context.Context, userID uuid.UUID, kind string, dealID uuid.UUID) error {
	body, _ := json.Marshal(map[string]any{
		"user_id": userID.String(),
		"kind":    kind,
		"deal_id": dealID.String(),
	})

	if err := c.do(ctx, http.MethodPost, c.baseURL+"/internal/notify", body, nil); err != nil {
		c.log.Warn("failed to send bot notification", zap.String("kind", kind), zap.Error(err))
		return err
	}
	return nil
}

func (c *BotClient) do(ctx context.Context, method, u string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Internal-Token", c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(models.ErrExternalUnavailable, "bot service: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrap(ErrChannelUnknown, u)
	case resp.StatusCode >= 500:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Wrapf(models.ErrExternalUnavailable, "bot service returned %d: %s", resp.StatusCode, string(b))
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("bot service returned %d: %s", resp.StatusCode, string(b))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
