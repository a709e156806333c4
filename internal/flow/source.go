package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

// DefaultCacheTTL is how long a loaded flow is reused before it is refetched.
const DefaultCacheTTL = 5 * time.Minute

// Messages attached to a flow loaded from the store.
const (
	StoredWelcomeMessage  = "Hi! I'd love to hear about your experience with our product. This will just take 2 minutes."
	StoredThankYouMessage = "Thank you so much for your feedback! Your insights are really valuable and will help us improve the product for everyone."
)

// ErrNoLoader is returned by Refresh when the Source has no loader.
var ErrNoLoader = errors.New("no flow loader configured")

// Loader fetches the active question flow from persistent configuration.
type Loader interface {
	ActiveFlow(ctx context.Context) (*models.QuestionFlow, error)
}

// DefaultRetryBackoff is how long a failed load is remembered before the
// loader is tried again.
const DefaultRetryBackoff = 30 * time.Second

// Source serves the active flow from a time-bounded cache, falling back to a
// static flow when the loader is unavailable. Concurrent misses share one
// load, and the loader is called without holding the cache lock.
type Source struct {
	loader  Loader
	ttl     time.Duration
	backoff time.Duration
	now     func() time.Time
	loads   singleflight.Group

	mu        sync.Mutex
	cached    *models.QuestionFlow
	fetchedAt time.Time
	failedAt  time.Time
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) SourceOption {
	return func(s *Source) {
		s.ttl = ttl
	}
}

// WithRetryBackoff overrides DefaultRetryBackoff.
func WithRetryBackoff(d time.Duration) SourceOption {
	return func(s *Source) {
		s.backoff = d
	}
}

// WithSourceClock sets the time source used for cache expiry.
func WithSourceClock(now func() time.Time) SourceOption {
	return func(s *Source) {
		s.now = now
	}
}

// NewSource creates a Source. A nil loader always yields the fallback flow.
func NewSource(loader Loader, opts ...SourceOption) *Source {
	s := &Source{loader: loader, ttl: DefaultCacheTTL, backoff: DefaultRetryBackoff, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns the active flow. Load failures are logged and served with
// FallbackFlow, which is never cached. After a failure the loader is not
// retried until the backoff has passed.
func (s *Source) Active(ctx context.Context) models.QuestionFlow {
	s.mu.Lock()
	now := s.now()
	if s.cached != nil && now.Sub(s.fetchedAt) < s.ttl {
		f := *s.cached
		s.mu.Unlock()
		return f
	}
	backingOff := !s.failedAt.IsZero() && now.Sub(s.failedAt) < s.backoff
	s.mu.Unlock()

	if backingOff {
		return FallbackFlow()
	}
	f, err := s.load(ctx)
	if err != nil {
		slog.Warn("Source.Active: using fallback flow", "error", err)
		return FallbackFlow()
	}
	return f
}

// Refresh reloads the flow regardless of cache age or backoff. On failure the
// previous cached flow, if any, stays in place.
func (s *Source) Refresh(ctx context.Context) error {
	_, err := s.load(ctx)
	return err
}

func (s *Source) load(ctx context.Context) (models.QuestionFlow, error) {
	v, err, shared := s.loads.Do("active", func() (any, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return models.QuestionFlow{}, err
	}
	if shared {
		slog.Debug("Source.load: joined an in-flight load")
	}
	return v.(models.QuestionFlow), nil
}

func (s *Source) fetch(ctx context.Context) (models.QuestionFlow, error) {
	loaded, err := s.fetchFlow(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.failedAt = s.now()
		return models.QuestionFlow{}, err
	}
	s.cached = &loaded
	s.fetchedAt = s.now()
	s.failedAt = time.Time{}
	slog.Debug("Source.fetch: loaded flow", "flow_id", loaded.ID, "questions", len(loaded.Questions))
	return loaded, nil
}

func (s *Source) fetchFlow(ctx context.Context) (models.QuestionFlow, error) {
	if s.loader == nil {
		return models.QuestionFlow{}, ErrNoLoader
	}
	f, err := s.loader.ActiveFlow(ctx)
	if err != nil {
		return models.QuestionFlow{}, err
	}
	if f == nil {
		return models.QuestionFlow{}, models.ErrEmptyFlow
	}
	if err := f.Validate(); err != nil {
		return models.QuestionFlow{}, err
	}
	loaded := *f
	if loaded.WelcomeMessage == "" {
		loaded.WelcomeMessage = StoredWelcomeMessage
	}
	if loaded.ThankYouMessage == "" {
		loaded.ThankYouMessage = StoredThankYouMessage
	}
	return loaded, nil
}

// FallbackFlow is the generic product survey used when no flow can be loaded.
func FallbackFlow() models.QuestionFlow {
	return models.QuestionFlow{
		ID:             "fallback",
		Name:           "Product Feedback",
		WelcomeMessage: "Hi! I'd love to hear about your experience. This will just take 2 minutes.",
		Questions: []models.Question{
			{ID: "q1", Text: "How long have you been using our product?", Type: models.QuestionTypeOpen},
			{ID: "q2", Text: "On a scale of 1 to 10, how satisfied are you?", Type: models.QuestionTypeRating},
			{ID: "q3", Text: "What feature do you use the most?", Type: models.QuestionTypeOpen},
			{ID: "q4", Text: "What could we improve?", Type: models.QuestionTypeOpen},
		},
		ThankYouMessage: "Thank you so much for your feedback! Your insights are really valuable to us.",
	}
}
