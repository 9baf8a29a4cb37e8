package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/insightd/internal/catalog"
)

type arxivPayload struct {
	ArxivID    string   `json:"arxiv_id"`
	Title      string   `json:"title"`
	Abstract   string   `json:"abstract"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func normalizeArxiv(raw json.RawMessage) (catalog.Signal, error) {
	var payload arxivPayload
	if err := decode(raw, &payload); err != nil {
		return catalog.Signal{}, err
	}
	if payload.ArxivID == "" {
		return catalog.Signal{}, fmt.Errorf("%w: arxiv payload missing arxiv_id", ErrMalformedPayload)
	}

	return catalog.Signal{
		Text:                joinText(payload.Title, payload.Abstract),
		SourceType:          "arxiv",
		EvidenceType:        "extracted",
		Provenance:          "arxiv:" + payload.ArxivID,
		ExtractorConfidence: payload.Confidence,
	}, nil
}

type githubPayload struct {
	Repository  string   `json:"repository"`
	IssueNumber int      `json:"issue_number"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Reactions   *float64 `json:"reactions,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

func normalizeGithub(raw json.RawMessage) (catalog.Signal, error) {
	var payload githubPayload
	if err := decode(raw, &payload); err != nil {
		return catalog.Signal{}, err
	}
	if payload.Repository == "" || payload.IssueNumber <= 0 {
		return catalog.Signal{}, fmt.Errorf("%w: github payload needs repository and issue_number", ErrMalformedPayload)
	}

	return catalog.Signal{
		Text:                joinText(payload.Title, payload.Body),
		SourceType:          "github",
		EvidenceType:        "extracted",
		Provenance:          fmt.Sprintf("github:%s#%d", payload.Repository, payload.IssueNumber),
		EngagementMetric:    payload.Reactions,
		ExtractorConfidence: payload.Confidence,
	}, nil
}

type hackerNewsPayload struct {
	ItemID     int64    `json:"item_id"`
	Title      string   `json:"title"`
	Text       string   `json:"text"`
	Score      *float64 `json:"score,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func normalizeHackerNews(raw json.RawMessage) (catalog.Signal, error) {
	var payload hackerNewsPayload
	if err := decode(raw, &payload); err != nil {
		return catalog.Signal{}, err
	}
	if payload.ItemID <= 0 {
		return catalog.Signal{}, fmt.Errorf("%w: hackernews payload missing item_id", ErrMalformedPayload)
	}

	return catalog.Signal{
		Text:                joinText(payload.Title, payload.Text),
		SourceType:          "hackernews",
		EvidenceType:        "extracted",
		Provenance:          fmt.Sprintf("hackernews:%d", payload.ItemID),
		EngagementMetric:    payload.Score,
		ExtractorConfidence: payload.Confidence,
	}, nil
}

type redditPayload struct {
	Subreddit  string   `json:"subreddit"`
	PostID     string   `json:"post_id"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Upvotes    *float64 `json:"upvotes,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func normalizeReddit(raw json.RawMessage) (catalog.Signal, error) {
	var payload redditPayload
	if err := decode(raw, &payload); err != nil {
		return catalog.Signal{}, err
	}
	if payload.Subreddit == "" || payload.PostID == "" {
		return catalog.Signal{}, fmt.Errorf("%w: reddit payload needs subreddit and post_id", ErrMalformedPayload)
	}

	return catalog.Signal{
		Text:                joinText(payload.Title, payload.Body),
		SourceType:          "reddit",
		EvidenceType:        "extracted",
		Provenance:          fmt.Sprintf("reddit:%s/%s", payload.Subreddit, payload.PostID),
		EngagementMetric:    payload.Upvotes,
		ExtractorConfidence: payload.Confidence,
	}, nil
}

type rssPayload struct {
	FeedURL    string   `json:"feed_url"`
	GUID       string   `json:"guid"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func normalizeRSS(raw json.RawMessage) (catalog.Signal, error) {
	var payload rssPayload
	if err := decode(raw, &payload); err != nil {
		return catalog.Signal{}, err
	}
	if payload.GUID == "" {
		return catalog.Signal{}, fmt.Errorf("%w: rss payload missing guid", ErrMalformedPayload)
	}

	return catalog.Signal{
		Text:                joinText(payload.Title, payload.Summary),
		SourceType:          "rss",
		EvidenceType:        "extracted",
		Provenance:          "rss:" + payload.GUID,
		ExtractorConfidence: payload.Confidence,
	}, nil
}

// joinText combines a title and body into one normalized text block.
func joinText(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n\n" + body
	}
}
