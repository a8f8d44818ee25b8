package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/kv"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
)

type Level string

const (
	LevelNone     Level = "none"
	LevelEarly    Level = "early"
	LevelFinal    Level = "final"
	LevelExceeded Level = "exceeded"
)

const (
	DefaultDailyLimit = 3000

	usageKey    = "parley:usage:daily"
	warningsKey = "parley:usage:warnings"
	dateLayout  = "2006-01-02"
)

// Usage is the persisted daily usage record.
type Usage struct {
	TotalWords      int    `json:"total_words"`
	WindowStartDate string `json:"window_start_date"`
	WarningLevel    Level  `json:"warning_level"`
}

// Warning is a one-time notification for crossing a threshold.
type Warning struct {
	Level      Level   `json:"level"`
	UsedWords  int     `json:"used_words"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
}

type Result struct {
	Allowed        bool     `json:"allowed"`
	RemainingWords int      `json:"remaining_words"`
	UsedWords      int      `json:"used_words"`
	Percentage     float64  `json:"percentage"`
	WarningLevel   Level    `json:"warning_level"`
	// Notifications lists every level newly crossed by this call, lowest
	// first. Notification is the last of them.
	Notifications []Warning `json:"notifications,omitempty"`
	Notification  *Warning  `json:"notification,omitempty"`
}

type Options struct {
	DailyLimit int
	// Now defaults to time.Now. Day boundaries use Now().Location().
	Now       func() time.Time
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	OnWarning func(Warning)
}

// Tracker enforces the rolling daily word budget. Persistence is best effort:
// when the store fails the tracker keeps counting in memory.
type Tracker struct {
	store     kv.Store
	limit     int
	now       func() time.Time
	logger    *zap.Logger
	metrics   *observability.Metrics
	onWarning func(Warning)

	mu     sync.Mutex
	loaded bool
	usage  Usage
	seen   map[Level]bool
}

func NewTracker(store kv.Store, opts Options) *Tracker {
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = DefaultDailyLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		store:     store,
		limit:     opts.DailyLimit,
		now:       opts.Now,
		logger:    logging.OrNop(opts.Logger).Named("quota"),
		metrics:   opts.Metrics,
		onWarning: opts.OnWarning,
		seen:      make(map[Level]bool),
	}
}

func (t *Tracker) Limit() int { return t.limit }

// CheckLimit reports whether wordCount more words fit in today's budget. It
// never records usage; exempt callers are always allowed.
func (t *Tracker) CheckLimit(ctx context.Context, wordCount int, exempt bool) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prepare(ctx)

	res := t.resultLocked()
	if exempt {
		res.Allowed = true
		return res
	}
	if wordCount < 0 {
		wordCount = 0
	}
	res.Allowed = t.usage.TotalWords+wordCount <= t.limit
	return res
}

// RecordUsage adds the words of text to today's total and returns the new
// state. Each threshold produces one notification per day; a call that
// crosses several at once reports all of them in order.
func (t *Tracker) RecordUsage(ctx context.Context, text string, exempt bool) Result {
	words := CountWords(text)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.prepare(ctx)

	if exempt {
		t.metrics.AddExemptWords("exempt", words)
		res := t.resultLocked()
		res.Allowed = true
		return res
	}

	t.usage.TotalWords += words
	t.usage.WarningLevel = levelFor(t.usage.TotalWords, t.limit)

	var warnings []Warning
	for _, lvl := range warningLevels {
		if rank(lvl) > rank(t.usage.WarningLevel) || t.seen[lvl] {
			continue
		}
		t.seen[lvl] = true
		warnings = append(warnings, *t.warningLocked(lvl))
	}
	t.persistLocked(ctx, len(warnings) > 0)

	res := t.resultLocked()
	res.Allowed = t.usage.TotalWords <= t.limit
	if len(warnings) > 0 {
		res.Notifications = warnings
		res.Notification = &warnings[len(warnings)-1]
	}

	for _, w := range warnings {
		t.metrics.QuotaWarning(string(w.Level))
		t.logger.Info("quota threshold reached",
			zap.String("level", string(w.Level)),
			zap.Int("used_words", w.UsedWords),
			zap.Int("limit", w.Limit))
		if t.onWarning != nil {
			t.onWarning(w)
		}
	}
	return res
}

// Usage returns a snapshot of today's record.
func (t *Tracker) Usage(ctx context.Context) Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prepare(ctx)
	return t.usage
}

// Reset clears today's usage and shown warnings.
func (t *Tracker) Reset(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loaded = true
	t.resetLocked(t.today())
	t.persistLocked(ctx, true)
}

func (t *Tracker) today() string {
	return t.now().Format(dateLayout)
}

// prepare loads persisted state once and rolls the window over at the first
// access on a new calendar day.
func (t *Tracker) prepare(ctx context.Context) {
	today := t.today()
	if !t.loaded {
		t.loaded = true
		t.load(ctx)
	}
	if t.usage.WindowStartDate == today {
		return
	}
	t.resetLocked(today)
	t.persistLocked(ctx, true)
}

func (t *Tracker) resetLocked(today string) {
	t.usage = Usage{WindowStartDate: today, WarningLevel: LevelNone}
	t.seen = make(map[Level]bool)
}

func (t *Tracker) load(ctx context.Context) {
	raw, err := t.store.Get(ctx, usageKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
	case err != nil:
		t.logger.Warn("usage record unreadable, starting from zero", zap.Error(err))
	default:
		var u Usage
		if err := json.Unmarshal([]byte(raw), &u); err != nil || u.TotalWords < 0 {
			t.logger.Warn("usage record corrupt, starting from zero", zap.Error(err))
		} else {
			t.usage = u
		}
	}

	raw, err = t.store.Get(ctx, warningsKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			t.logger.Warn("warning record unreadable", zap.Error(err))
		}
		return
	}
	var levels []Level
	if err := json.Unmarshal([]byte(raw), &levels); err != nil {
		t.logger.Warn("warning record corrupt", zap.Error(err))
		return
	}
	for _, l := range levels {
		t.seen[l] = true
	}
}

func (t *Tracker) persistLocked(ctx context.Context, withWarnings bool) {
	raw, _ := json.Marshal(t.usage)
	if err := t.store.Set(ctx, usageKey, string(raw)); err != nil {
		t.logger.Warn("persist usage failed", zap.Error(err))
	}
	if !withWarnings {
		return
	}
	levels := make([]Level, 0, len(t.seen))
	for l := range t.seen {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	raw, _ = json.Marshal(levels)
	if err := t.store.Set(ctx, warningsKey, string(raw)); err != nil {
		t.logger.Warn("persist warnings failed", zap.Error(err))
	}
}

func (t *Tracker) resultLocked() Result {
	used := t.usage.TotalWords
	remaining := t.limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		RemainingWords: remaining,
		UsedWords:      used,
		Percentage:     percentage(used, t.limit),
		WarningLevel:   levelFor(used, t.limit),
	}
}

func (t *Tracker) warningLocked(lvl Level) *Warning {
	used := t.usage.TotalWords
	w := &Warning{
		Level:      lvl,
		UsedWords:  used,
		Limit:      t.limit,
		Percentage: percentage(used, t.limit),
	}
	switch lvl {
	case LevelEarly:
		w.Message = fmt.Sprintf("You have used %d of your %d daily words.", used, t.limit)
	case LevelFinal:
		w.Message = fmt.Sprintf("Only %d words left today.", max(t.limit-used, 0))
	case LevelExceeded:
		w.Message = "You have reached today's word limit. It resets at midnight."
	}
	return w
}

var warningLevels = []Level{LevelEarly, LevelFinal, LevelExceeded}

func rank(l Level) int {
	switch l {
	case LevelEarly:
		return 1
	case LevelFinal:
		return 2
	case LevelExceeded:
		return 3
	default:
		return 0
	}
}

func levelFor(used, limit int) Level {
	p := percentage(used, limit)
	switch {
	case p >= 100:
		return LevelExceeded
	case p >= 90:
		return LevelFinal
	case p >= 80:
		return LevelEarly
	default:
		return LevelNone
	}
}

func percentage(used, limit int) float64 {
	if limit <= 0 {
		return 100
	}
	return float64(used) * 100 / float64(limit)
}
