package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/model"
	"github.com/sifan077/SpeedDial/internal/app/ratelimit"
	"github.com/sifan077/SpeedDial/internal/app/validator"
	infraPrometheus "github.com/sifan077/SpeedDial/internal/infra/prometheus"
	"go.uber.org/zap"
)

// LookupRequest is one public lookup attempt.
type LookupRequest struct {
	Number    string
	ClientIP  string
	UserAgent string
}

// LookupResult is the public answer for a number. Extra carries fields
// added by response transforms.
type LookupResult struct {
	Found   bool
	Number  string
	Title   string
	URL     string
	Note    string
	Message string
	Extra   map[string]interface{}
}

// Payload renders the result as the JSON body served to callers.
func (r *LookupResult) Payload() map[string]interface{} {
	out := make(map[string]interface{}, 6+len(r.Extra))
	for k, v := range r.Extra {
		out[k] = v
	}
	out["found"] = r.Found
	out["number"] = r.Number
	if r.Found {
		out["title"] = r.Title
		out["url"] = r.URL
		out["note"] = r.Note
	} else {
		out["message"] = r.Message
	}
	return out
}

// SuccessHook runs after a number resolved. Its error or panic is logged and dropped.
type SuccessHook func(ctx context.Context, number string, entry *model.Entry) error

// ResponseTransform may rewrite a successful result before it is returned.
type ResponseTransform func(ctx context.Context, result *LookupResult, entry *model.Entry)

// LookupDeps wires a LookupService. Limiter, Sinks and Metrics are optional.
type LookupDeps struct {
	Logger  *zap.Logger
	Entries EntryService
	Limiter ratelimit.Limiter
	Sinks   []EventSink
	Metrics *infraPrometheus.Metrics
	Config  config.SpeedDialConfig
}

// LookupService answers public number lookups.
type LookupService struct {
	logger    *zap.Logger
	entries   EntryService
	limiter   ratelimit.Limiter
	sinks     []EventSink
	metrics   *infraPrometheus.Metrics
	validator *validator.Validator
	cfg       config.SpeedDialConfig
	now       func() time.Time

	mu         sync.RWMutex
	hooks      []SuccessHook
	transforms []ResponseTransform
}

func NewLookupService(deps LookupDeps) *LookupService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config.WithDefaults()

	limiter := deps.Limiter
	if !cfg.RateLimitEnabled {
		limiter = nil
	}

	return &LookupService{
		logger:    logger,
		entries:   deps.Entries,
		limiter:   limiter,
		sinks:     deps.Sinks,
		metrics:   deps.Metrics,
		validator: validator.New(cfg.MaxDigits),
		cfg:       cfg,
		now:       time.Now,
	}
}

// OnSuccess registers a hook fired after every successful lookup.
func (s *LookupService) OnSuccess(hook SuccessHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// AddTransform registers a transform applied to successful results in order.
func (s *LookupService) AddTransform(transform ResponseTransform) {
	s.mu.Lock()
	s.transforms = append(s.transforms, transform)
	s.mu.Unlock()
}

// Lookup resolves req.Number. An unassigned or inactive number is a normal
// result with Found false; errors are reserved for rejected requests and
// storage faults.
func (s *LookupService) Lookup(ctx context.Context, req LookupRequest) (*LookupResult, error) {
	number := validator.NormalizeNumber(req.Number)
	if !s.validator.IsValidNumber(number) {
		s.metrics.ObserveLookup(infraPrometheus.OutcomeInvalid)
		return nil, ErrInvalidNumber
	}

	if s.limiter != nil {
		decision, err := s.limiter.Allow(ctx, rateLimitKey(req.ClientIP, number))
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing lookup", zap.Error(err))
		} else if !decision.Allowed {
			s.metrics.ObserveLookup(infraPrometheus.OutcomeRateLimited)
			return nil, ErrRateLimited
		}
	}

	entry, err := s.entries.GetByNumber(ctx, number)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		s.metrics.ObserveLookup(infraPrometheus.OutcomeError)
		return nil, fmt.Errorf("lookup %s: %w", number, err)
	}

	if entry == nil || !entry.IsActive {
		s.metrics.ObserveLookup(infraPrometheus.OutcomeNotFound)
		s.emit(ctx, s.newEvent(model.EventLookupFailed, number, nil, req))
		return &LookupResult{Found: false, Number: number, Message: s.cfg.NotFoundText}, nil
	}

	s.metrics.ObserveLookup(infraPrometheus.OutcomeFound)
	s.emit(ctx, s.newEvent(model.EventLookupSuccess, number, entry, req))

	s.mu.RLock()
	hooks := append([]SuccessHook(nil), s.hooks...)
	transforms := append([]ResponseTransform(nil), s.transforms...)
	s.mu.RUnlock()

	for _, hook := range hooks {
		s.runHook(ctx, hook, number, entry)
	}

	result := &LookupResult{
		Found:  true,
		Number: entry.Number,
		Title:  entry.Title,
		URL:    entry.URL,
		Note:   entry.Note,
	}
	for _, transform := range transforms {
		s.runTransform(ctx, transform, result, entry)
	}
	return result, nil
}

// Suggest lists up to limit active numbers starting with prefix.
func (s *LookupService) Suggest(ctx context.Context, prefix string, limit int) ([]model.Suggestion, error) {
	return s.entries.SearchByPrefix(ctx, prefix, limit)
}

func (s *LookupService) newEvent(eventType model.LookupEventType, number string, entry *model.Entry, req LookupRequest) model.LookupEvent {
	event := model.LookupEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Number:    number,
		IP:        req.ClientIP,
		UserAgent: req.UserAgent,
		Timestamp: s.now().UTC(),
	}
	if entry != nil {
		event.Title = entry.Title
		event.URL = entry.URL
	}
	return event
}

func (s *LookupService) emit(ctx context.Context, event model.LookupEvent) {
	for _, sink := range s.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			s.logger.Warn("lookup event not delivered",
				zap.String("type", string(event.Type)),
				zap.String("number", event.Number),
				zap.Error(err),
			)
		}
	}
}

func (s *LookupService) runHook(ctx context.Context, hook SuccessHook, number string, entry *model.Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lookup hook panicked", zap.String("number", number), zap.Any("panic", r))
		}
	}()
	hookEntry := *entry
	if err := hook(ctx, number, &hookEntry); err != nil {
		s.logger.Warn("lookup hook failed", zap.String("number", number), zap.Error(err))
	}
}

func (s *LookupService) runTransform(ctx context.Context, transform ResponseTransform, result *LookupResult, entry *model.Entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lookup response transform panicked", zap.String("number", result.Number), zap.Any("panic", r))
		}
	}()
	transformEntry := *entry
	transform(ctx, result, &transformEntry)
}

func rateLimitKey(clientIP, number string) string {
	return clientIP + "_" + number
}
