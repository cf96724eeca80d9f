package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// FeedDescriptor identifies a feed found by a discover command.
type FeedDescriptor struct {
	Title string `json:"title"`
	Host  string `json:"host"`
	URL   string `json:"url"`
}

type Feed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Entries     []Post `json:"entries"`
}

// Post is keyed by EntryID, the stable guid taken from the source feed.
type Post struct {
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	EntryID    string   `json:"entry_id"`
	Content    string   `json:"content,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	Published  string   `json:"published"`
	Categories []string `json:"categories,omitempty"`
	Author     string   `json:"author"`
}

// Body returns the full content when present, otherwise the summary.
func (p Post) Body() string {
	if p.Content != "" {
		return p.Content
	}
	return p.Summary
}

// PublishedAt parses Published as RFC 3339. Unparsable values yield the zero time.
func (p Post) PublishedAt() time.Time {
	t, err := time.Parse(time.RFC3339, p.Published)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DiscoveryResult is one round of feed discovery. On the wire it is a tuple:
// ["ok", queryId, [FeedDescriptor...]] or ["error", queryId, reason].
type DiscoveryResult struct {
	Status  ResultStatus
	QueryID string
	Feeds   []FeedDescriptor
	Reason  string
}

func (d DiscoveryResult) MarshalJSON() ([]byte, error) {
	switch d.Status {
	case StatusOK:
		feeds := d.Feeds
		if feeds == nil {
			feeds = []FeedDescriptor{}
		}
		return json.Marshal([]any{StatusOK, d.QueryID, feeds})
	case StatusError:
		return json.Marshal([]any{StatusError, d.QueryID, d.Reason})
	}
	return nil, fmt.Errorf("discovery result: unknown status %q", d.Status)
}

func (d *DiscoveryResult) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 3 {
		return fmt.Errorf("discovery result: want 3 elements, got %d", len(tuple))
	}
	var out DiscoveryResult
	if err := json.Unmarshal(tuple[0], &out.Status); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[1], &out.QueryID); err != nil {
		return err
	}
	switch out.Status {
	case StatusOK:
		if err := json.Unmarshal(tuple[2], &out.Feeds); err != nil {
			return err
		}
	case StatusError:
		if err := json.Unmarshal(tuple[2], &out.Reason); err != nil {
			return err
		}
	default:
		return fmt.Errorf("discovery result: unknown status %q", out.Status)
	}
	*d = out
	return nil
}

// FetchResult is the outcome of fetching one feed: ["ok", Feed] or ["error", reason].
type FetchResult struct {
	Status ResultStatus
	Feed   Feed
	Reason string
}

func (f FetchResult) MarshalJSON() ([]byte, error) {
	switch f.Status {
	case StatusOK:
		return json.Marshal([]any{StatusOK, f.Feed})
	case StatusError:
		return json.Marshal([]any{StatusError, f.Reason})
	}
	return nil, fmt.Errorf("fetch result: unknown status %q", f.Status)
}

func (f *FetchResult) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("fetch result: want 2 elements, got %d", len(tuple))
	}
	var out FetchResult
	if err := json.Unmarshal(tuple[0], &out.Status); err != nil {
		return err
	}
	switch out.Status {
	case StatusOK:
		if err := json.Unmarshal(tuple[1], &out.Feed); err != nil {
			return err
		}
	case StatusError:
		if err := json.Unmarshal(tuple[1], &out.Reason); err != nil {
			return err
		}
	default:
		return fmt.Errorf("fetch result: unknown status %q", out.Status)
	}
	*f = out
	return nil
}
