package collection

import (
	"strings"
	"time"
	"unicode"

	"github.com/roach88/optimist/internal/engine"
	"github.com/roach88/optimist/internal/realtime"
	"github.com/roach88/optimist/internal/remote"
	"github.com/roach88/optimist/internal/transform"
	"github.com/roach88/optimist/internal/validate"
)

// Post collection identifiers.
const (
	PostName      = "posts"
	PostEventType = "posts"
	PostEntityKey = "post"
)

const (
	excerptRunes   = 160
	wordsPerMinute = 200
)

// PostWire is a post as the backend stores it.
type PostWire struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Author      string `json:"author"`
	PublishedAt string `json:"published_at"`
}

func (w PostWire) GetID() string { return w.ID }

// Post is a post as the UI reads it. Excerpt and ReadingMinutes are derived
// from Body and never sent back.
type Post struct {
	ID             string
	Title          string
	Body           string
	Author         string
	PublishedAt    time.Time
	Excerpt        string
	ReadingMinutes int
}

func (p Post) GetID() string { return p.ID }

// PostInput is what a caller supplies to create a post.
type PostInput struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	Author string `json:"author"`
}

// PostTransformer converts between PostWire and Post.
type PostTransformer struct{}

var _ transform.Transformer[PostWire, Post, PostInput] = PostTransformer{}

func (PostTransformer) ToUI(w PostWire) Post {
	return Post{
		ID:             w.ID,
		Title:          w.Title,
		Body:           w.Body,
		Author:         w.Author,
		PublishedAt:    parseTime(w.PublishedAt),
		Excerpt:        Excerpt(w.Body),
		ReadingMinutes: ReadingMinutes(w.Body),
	}
}

func (PostTransformer) ToAPI(p Post) PostWire {
	return PostWire{
		ID:          p.ID,
		Title:       p.Title,
		Body:        p.Body,
		Author:      p.Author,
		PublishedAt: formatTime(p.PublishedAt),
	}
}

func (PostTransformer) Optimistic(in PostInput, ctx transform.OptimisticContext) Post {
	return Post{
		ID:             ctx.TempID,
		Title:          in.Title,
		Body:           in.Body,
		Author:         in.Author,
		PublishedAt:    ctx.Now,
		Excerpt:        Excerpt(in.Body),
		ReadingMinutes: ReadingMinutes(in.Body),
	}
}

// NewPostWire builds the stored row for a create.
func NewPostWire(id string, in PostInput, now time.Time) PostWire {
	return PostWire{
		ID:          id,
		Title:       in.Title,
		Body:        in.Body,
		Author:      in.Author,
		PublishedAt: formatTime(now),
	}
}

var _ remote.NewFunc[PostWire, PostInput] = NewPostWire

var postSchema = mustSchema("post.cue", "#PostInput")

// ValidatePost checks create input against the post schema.
func ValidatePost(in PostInput) error {
	return validate.Func[PostInput](postSchema)(in)
}

// PostLess orders posts newest first, then by id.
func PostLess(a, b Post) bool {
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	return a.ID < b.ID
}

// PostConfig returns the store configuration for posts over src.
func PostConfig(src remote.Source[PostWire, PostInput]) engine.Config[PostWire, Post, PostInput] {
	return engine.Config[PostWire, Post, PostInput]{
		Name:        PostName,
		Source:      src,
		Transformer: PostTransformer{},
		Validate:    ValidatePost,
		Less:        PostLess,
	}
}

// PostRealtime returns the realtime configuration for posts.
func PostRealtime(sub realtime.Subscriber, clientID string) *engine.RealtimeConfig[PostWire] {
	return &engine.RealtimeConfig[PostWire]{
		Subscriber:    sub,
		EventType:     PostEventType,
		DataExtractor: realtime.ExtractField[PostWire](PostEntityKey),
		ClientID:      clientID,
	}
}

// PostPublish returns the frame layout PostRealtime consumes.
func PostPublish() remote.PublishConfig {
	return remote.PublishConfig{
		Topic:     PostEventType,
		EventType: PostEventType,
		EntityKey: PostEntityKey,
	}
}

// Excerpt returns body collapsed to single spaces and cut at the last word
// boundary within 160 runes. A cut excerpt ends in "...".
func Excerpt(body string) string {
	text := strings.Join(strings.Fields(body), " ")
	runes := []rune(text)
	if len(runes) <= excerptRunes {
		return text
	}

	cut := runes[:excerptRunes]
	if i := lastSpace(cut); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(string(cut), unicode.IsPunct) + "..."
}

// ReadingMinutes estimates reading time at 200 words per minute, rounded up.
// A non-empty body takes at least one minute.
func ReadingMinutes(body string) int {
	words := len(strings.Fields(body))
	if words == 0 {
		return 0
	}
	return (words + wordsPerMinute - 1) / wordsPerMinute
}

func lastSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == ' ' {
			return i
		}
	}
	return -1
}
