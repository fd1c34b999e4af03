package platform

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ads-marketplace/deal-engine/internal/models"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PostSnapshot is what the public embed page shows for a post.
type PostSnapshot struct {
	Liveness models.Liveness
	Text     string
	Views    *int
}

// EmbedProber reads public t.me embed pages to tell whether a post still exists.
type EmbedProber struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewEmbedProber(baseURL string, timeoutMS int, log *zap.Logger) *EmbedProber {
	return &EmbedProber{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		log: log,
	}
}

// FetchPost loads the embed page of one post. A 404 or the error widget means the post is gone;
// any other failure, including a page without the message widget, is indeterminate and returned
// as an error.
func (p *EmbedProber) FetchPost(ctx context.Context, username string, messageID int64) (*PostSnapshot, error) {
	url := fmt.Sprintf("%s/%s/%d?embed=1", p.baseURL, username, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &PostSnapshot{Liveness: models.LivenessIndeterminate}, errors.Wrap(err, "fetch embed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &PostSnapshot{Liveness: models.LivenessDeleted}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return &PostSnapshot{Liveness: models.LivenessIndeterminate}, errors.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return &PostSnapshot{Liveness: models.LivenessIndeterminate}, errors.Wrap(err, "parse embed")
	}
	snap := parseEmbed(doc)
	if snap.Liveness == models.LivenessIndeterminate {
		return snap, errors.Errorf("no message widget in %s", url)
	}
	return snap, nil
}

func parseEmbed(doc *goquery.Document) *PostSnapshot {
	// t.me answers deleted posts with 200 and an error widget instead of the message
	if doc.Find(".tgme_widget_message_error").Length() > 0 {
		return &PostSnapshot{Liveness: models.LivenessDeleted}
	}
	// captcha or interstitial
	if doc.Find(".tgme_widget_message").Length() == 0 {
		return &PostSnapshot{Liveness: models.LivenessIndeterminate}
	}

	snap := &PostSnapshot{
		Liveness: models.LivenessAlive,
		Text:     strings.TrimSpace(doc.Find(".tgme_widget_message_text").First().Text()),
	}
	if n := parseCount(doc.Find(".tgme_widget_message_views").First().Text()); n > 0 {
		snap.Views = &n
	}
	return snap
}

var viewCountRE = regexp.MustCompile(`[\d,.]+[KkMm]?`)

func parseCount(text string) int {
	text = strings.ReplaceAll(text, " ", "")
	text = strings.ReplaceAll(text, ",", "")

	match := viewCountRE.FindString(text)
	if match == "" {
		return 0
	}

	multiplier := 1
	switch {
	case strings.HasSuffix(match, "K"), strings.HasSuffix(match, "k"):
		multiplier = 1000
		match = match[:len(match)-1]
	case strings.HasSuffix(match, "M"), strings.HasSuffix(match, "m"):
		multiplier = 1000000
		match = match[:len(match)-1]
	}

	f, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return int(f * float64(multiplier))
}
