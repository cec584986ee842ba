package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scrypster/farmmemory/internal/llm"
	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/internal/topics"
	"github.com/scrypster/farmmemory/pkg/types"
)

var (
	errBoom = errors.New("boom")
	testNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
)

func daysAgo(d float64) time.Time {
	return testNow.Add(-time.Duration(d * float64(24*time.Hour)))
}

// fakeHistory is an in-memory MessageRepository.
type fakeHistory struct {
	mu       sync.Mutex
	messages []types.Message
	err      error
	queries  []storage.MessageQuery
}

func (h *fakeHistory) GetMessages(_ context.Context, q storage.MessageQuery) ([]types.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, q)
	if h.err != nil {
		return nil, h.err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var out []types.Message
	for _, m := range h.messages {
		if q.SessionID != "" && m.SessionID != q.SessionID {
			continue
		}
		if q.UserID != "" && m.UserID != q.UserID {
			continue
		}
		if q.Role != "" && m.Role != q.Role {
			continue
		}
		if !q.Since.IsZero() && m.CreatedAt.Before(q.Since) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Descending() {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (h *fakeHistory) GetSession(_ context.Context, id string) (*types.Session, error) {
	return nil, storage.ErrNotFound
}

func (h *fakeHistory) add(id, session, user string, role types.Role, content string, at time.Time) {
	h.messages = append(h.messages, types.Message{
		ID: id, SessionID: session, UserID: user, Role: role, Content: content, CreatedAt: at,
	})
}

// fakeGenerator returns canned replies, or err. reply may inspect the prompt.
type fakeGenerator struct {
	mu    sync.Mutex
	reply func(msgs []llm.ChatMessage) (string, error)
	calls int
}

func (g *fakeGenerator) Complete(_ context.Context, msgs []llm.ChatMessage) (*llm.Completion, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	text, err := g.reply(msgs)
	if err != nil {
		return nil, err
	}
	return &llm.Completion{Text: text, ModelID: "fake"}, nil
}

func (g *fakeGenerator) GetModel() string { return "fake" }

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeEmbedder returns a fixed vector or err.
type fakeEmbedder struct {
	vector []float32
	err    error
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func (e *fakeEmbedder) ModelID() string { return "fake-embed" }

// fakeIndex returns canned points or err, and records upserts.
type fakeIndex struct {
	points  []storage.ScoredPoint
	err     error
	queries int
	upserts map[string]types.MemoryPayload

	upsertBounded bool
}

func (x *fakeIndex) Upsert(ctx context.Context, id string, _ []float32, p types.MemoryPayload) error {
	_, x.upsertBounded = ctx.Deadline()
	if x.err != nil {
		return x.err
	}
	if x.upserts == nil {
		x.upserts = make(map[string]types.MemoryPayload)
	}
	x.upserts[id] = p
	return nil
}

func (x *fakeIndex) Query(context.Context, []float32, storage.Filter, int, float64) ([]storage.ScoredPoint, error) {
	x.queries++
	return x.points, x.err
}

func (x *fakeIndex) Scroll(context.Context, storage.Filter, int) ([]types.MemoryPayload, error) {
	return nil, x.err
}

// panicClassifier panics for texts containing trigger.
type panicClassifier struct {
	inner   topics.Classifier
	trigger string
}

func (p panicClassifier) Topics(text string) []topics.Topic {
	if p.trigger != "" && strings.Contains(text, p.trigger) {
		panic("classifier exploded")
	}
	return p.inner.Topics(text)
}
