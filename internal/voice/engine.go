package voice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/capture"
	"github.com/antoniostano/parley/internal/conversation"
	"github.com/antoniostano/parley/internal/generate"
	"github.com/antoniostano/parley/internal/logging"
	"github.com/antoniostano/parley/internal/observability"
	"github.com/antoniostano/parley/internal/playback"
	"github.com/antoniostano/parley/internal/quota"
	"github.com/antoniostano/parley/internal/store"
	"github.com/antoniostano/parley/internal/synth"
	"github.com/antoniostano/parley/internal/transcribe"
)

var (
	ErrConversationActive   = errors.New("a conversation is already active")
	ErrNoConversation       = errors.New("no conversation")
	ErrEnded                = errors.New("conversation has ended")
	ErrInterruptionDisabled = errors.New("interruption is disabled for this conversation")
)

// Texts used when a turn's audio could not be transcribed.
const (
	UnheardPlaceholder = "[inaudible]"
	NotUnderstoodReply = "I'm sorry, I couldn't understand that. Could you say it again?"
)

type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan capture.Event
	Recording() capture.Recording
	Active() bool
	SetAudio(cfg conversation.AudioConfig)
}

type Transcriber interface {
	Transcribe(ctx context.Context, rec capture.Recording, languageHint string) (transcribe.Result, error)
}

type QuotaGate interface {
	CheckLimit(ctx context.Context, wordCount int, exempt bool) quota.Result
	RecordUsage(ctx context.Context, text string, exempt bool) quota.Result
}

type Responder interface {
	Generate(ctx context.Context, history []conversation.Message, userText string, cfg conversation.Config) generate.Reply
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string, settings synth.Settings) (synth.Audio, error)
}

type Player interface {
	Play(ctx context.Context, a synth.Audio, s playback.Settings) <-chan error
	Stop()
	IsPlaying() bool
}

type ConversationStore interface {
	SaveConversation(ctx context.Context, c conversation.Conversation) error
	StoreAudio(ctx context.Context, a store.Audio) (string, error)
}

// Deps are the collaborators of an Engine. Store and Voices may be nil.
type Deps struct {
	Recorder    Recorder
	Transcriber Transcriber
	Quota       QuotaGate
	Responder   Responder
	Synthesizer Synthesizer
	Player      Player
	Store       ConversationStore
	Voices      *synth.VoiceAllocator
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Now         func() time.Time
	SaveTimeout time.Duration
}

// Engine runs one conversation at a time through
// idle, listening, processing and speaking. Every state change happens under
// mu. A listening cycle owns a token; work finished on behalf of an older
// token is discarded.
type Engine struct {
	recorder    Recorder
	transcriber Transcriber
	quota       QuotaGate
	responder   Responder
	synth       Synthesizer
	player      Player
	store       ConversationStore
	voices      *synth.VoiceAllocator
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	saveTimeout time.Duration

	mu         sync.Mutex
	state      State
	conv       *conversation.Conversation
	exempt     bool
	voiceID    string
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	token      uint64
	turnCancel context.CancelFunc
	maxTimer   *time.Timer
	relisten   *time.Timer
	saveSeq    uint64

	saveMu   sync.Mutex
	savedSeq uint64
	saves    sync.WaitGroup

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func NewEngine(d Deps) *Engine {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.SaveTimeout <= 0 {
		d.SaveTimeout = 2 * time.Second
	}
	return &Engine{
		recorder:    d.Recorder,
		transcriber: d.Transcriber,
		quota:       d.Quota,
		responder:   d.Responder,
		synth:       d.Synthesizer,
		player:      d.Player,
		store:       d.Store,
		voices:      d.Voices,
		logger:      logging.OrNop(d.Logger).Named("engine"),
		metrics:     d.Metrics,
		now:         d.Now,
		saveTimeout: d.SaveTimeout,
		state:       StateIdle,
		subs:        make(map[int]chan Event),
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Conversation returns a copy of the current or last conversation.
func (e *Engine) Conversation() (conversation.Conversation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv == nil {
		return conversation.Conversation{}, false
	}
	return e.conv.Snapshot(), true
}

// Begin opens a new conversation with cfg. Exempt conversations are never
// counted against the daily quota.
func (e *Engine) Begin(cfg conversation.Config, exempt bool) (string, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid conversation config: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginLocked(cfg, exempt)
}

func (e *Engine) beginLocked(cfg conversation.Config, exempt bool) (string, error) {
	if e.conv != nil && !e.conv.Ended() {
		return "", ErrConversationActive
	}
	e.conv = conversation.New(cfg, e.now())
	e.exempt = exempt
	e.lifeCtx, e.lifeCancel = context.WithCancel(context.Background())
	e.voiceID = e.pickVoice(cfg.Voice)
	e.recorder.SetAudio(cfg.Audio)

	id := e.conv.ID
	if cfg.Safety.MaxDuration > 0 {
		e.maxTimer = time.AfterFunc(cfg.Safety.MaxDuration, func() { e.expire(id) })
	}
	e.metrics.ConversationOpened()
	e.metrics.Event("conversation_started")
	e.logger.Info("conversation started",
		zap.String("conversation_id", id),
		zap.Bool("exempt", exempt),
		zap.String("voice", e.voiceID),
	)
	e.state = ""
	e.setStateLocked(StateIdle)
	return id, nil
}

func (e *Engine) pickVoice(v conversation.VoiceConfig) string {
	if v.VoiceID != "" {
		return v.VoiceID
	}
	if e.voices == nil {
		return ""
	}
	e.voices.Reset()
	return e.voices.Assign("assistant", synth.Preference{Gender: v.Gender, Personality: v.Personality}).ID
}

// Start moves idle or error to listening. Without an open conversation one
// is begun with the default config. In any other state it does nothing.
func (e *Engine) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv == nil || e.conv.Ended() {
		if _, err := e.beginLocked(conversation.DefaultConfig().Normalize(), false); err != nil {
			return err
		}
	}
	if e.state != StateIdle && e.state != StateError {
		return nil
	}
	return e.listenLocked()
}

// Interrupt abandons the current step and starts a new listening cycle.
func (e *Engine) Interrupt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv == nil {
		return ErrNoConversation
	}
	if e.conv.Ended() {
		return ErrEnded
	}
	if !e.conv.Config.Policy.AllowInterruption {
		return ErrInterruptionDisabled
	}
	switch e.state {
	case StateListening, StateProcessing, StateSpeaking:
		e.conv.Stats.InterruptionCount++
		e.metrics.Event("interrupted")
	}
	return e.listenLocked()
}

// StopSpeaking cuts playback short and returns to idle. Safe at any time.
func (e *Engine) StopSpeaking() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateSpeaking {
		e.player.Stop()
		return
	}
	e.cancelTurnLocked()
	e.player.Stop()
	e.setStateLocked(StateIdle)
}

// StopListening abandons the current recording and returns to idle. Safe at
// any time.
func (e *Engine) StopListening() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateListening {
		return
	}
	e.cancelTurnLocked()
	_ = e.recorder.Stop()
	e.setStateLocked(StateIdle)
}

// End stops all audio, finalizes the stats and flushes the conversation to
// the store. Ending an ended conversation returns it again.
func (e *Engine) End(ctx context.Context) (conversation.Conversation, error) {
	e.mu.Lock()
	if e.conv == nil {
		e.mu.Unlock()
		return conversation.Conversation{}, ErrNoConversation
	}
	if e.conv.Ended() {
		snap := e.conv.Snapshot()
		e.mu.Unlock()
		return snap, nil
	}
	e.cancelTurnLocked()
	_ = e.recorder.Stop()
	e.player.Stop()
	if e.maxTimer != nil {
		e.maxTimer.Stop()
		e.maxTimer = nil
	}
	e.conv.Finish(e.now())
	snap := e.conv.Snapshot()
	e.saveLocked()
	if e.voices != nil {
		e.voices.Reset()
	}
	e.lifeCancel()
	e.setStateLocked(StateEnded)
	e.mu.Unlock()

	e.waitSaves(ctx)
	e.metrics.ConversationClosed()
	e.metrics.Event("conversation_ended")
	e.logger.Info("conversation ended",
		zap.String("conversation_id", snap.ID),
		zap.Int("messages", len(snap.Messages)),
		zap.Int("interruptions", snap.Stats.InterruptionCount),
	)
	e.emit(Event{Type: EventEnded, ConversationID: snap.ID, State: StateEnded})
	return snap, nil
}

// Close ends any open conversation and drops all subscribers.
func (e *Engine) Close() {
	if _, err := e.End(context.Background()); err != nil && !errors.Is(err, ErrNoConversation) {
		e.logger.Warn("end on close failed", zap.Error(err))
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

func (e *Engine) expire(id string) {
	e.mu.Lock()
	stale := e.conv == nil || e.conv.ID != id || e.conv.Ended()
	e.mu.Unlock()
	if stale {
		return
	}
	e.metrics.Event("max_duration")
	e.emit(Event{Type: EventNotice, ConversationID: id, Notice: NoticeMaxDuration, Detail: "maximum conversation duration reached"})
	if _, err := e.End(context.Background()); err != nil {
		e.logger.Warn("end after max duration failed", zap.Error(err))
	}
}

func (e *Engine) current(tok uint64) bool {
	return e.token == tok && e.conv != nil && !e.conv.Ended()
}

func (e *Engine) cancelTurnLocked() {
	e.token++
	if e.turnCancel != nil {
		e.turnCancel()
		e.turnCancel = nil
	}
	if e.relisten != nil {
		e.relisten.Stop()
		e.relisten = nil
	}
}

// listenLocked releases the speaker, opens the microphone and starts a turn.
func (e *Engine) listenLocked() error {
	e.cancelTurnLocked()
	e.player.Stop()
	_ = e.recorder.Stop()

	tok := e.token
	if err := e.recorder.Start(e.lifeCtx); err != nil {
		e.failLocked(err)
		return err
	}
	turnCtx, cancel := context.WithCancel(e.lifeCtx)
	e.turnCancel = cancel
	e.setStateLocked(StateListening)
	go e.runTurn(turnCtx, tok, e.recorder.Events(), e.conv.Config)
	return nil
}

// failLocked moves to error after releasing every audio device.
func (e *Engine) failLocked(err error) {
	e.cancelTurnLocked()
	_ = e.recorder.Stop()
	e.player.Stop()
	e.metrics.Event("device_error")
	e.logger.Warn("audio device failure", zap.String("conversation_id", e.conv.ID), zap.Error(err))
	e.setStateLocked(StateError)
	e.emit(Event{Type: EventError, ConversationID: e.conv.ID, Err: err, Detail: err.Error()})
}

// settleLocked ends a turn in idle, scheduling the next listening cycle when
// the conversation runs hands-free.
func (e *Engine) settleLocked(relisten bool) {
	e.setStateLocked(StateIdle)
	if !relisten || !e.conv.Config.Policy.AutoRespond {
		return
	}
	tok := e.token
	e.relisten = time.AfterFunc(e.conv.Config.Policy.ResponseDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.current(tok) || e.state != StateIdle {
			return
		}
		_ = e.listenLocked()
	})
}

func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	from := e.state
	e.state = s
	id := ""
	if e.conv != nil {
		id = e.conv.ID
	}
	e.logger.Debug("state changed", zap.String("conversation_id", id), zap.String("from", string(from)), zap.String("state", string(s)))
	e.emit(Event{Type: EventStateChanged, ConversationID: id, State: s})
}

func (e *Engine) notice(tok uint64, code, detail string) {
	e.metrics.Event("notice_" + code)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current(tok) {
		return
	}
	e.emit(Event{Type: EventNotice, ConversationID: e.conv.ID, Notice: code, Detail: detail})
}

func (e *Engine) appendLocked(m conversation.Message) {
	e.conv.Append(m)
	msg := m
	e.emit(Event{Type: EventMessage, ConversationID: e.conv.ID, Message: &msg})
	e.saveLocked()
}

// saveLocked writes a snapshot in the background. Writes are sequenced so an
// older snapshot never replaces a newer one.
func (e *Engine) saveLocked() {
	if e.store == nil || e.conv == nil {
		return
	}
	snap := e.conv.Snapshot()
	e.saveSeq++
	seq := e.saveSeq
	e.saves.Add(1)
	go func() {
		defer e.saves.Done()
		e.saveMu.Lock()
		defer e.saveMu.Unlock()
		if seq <= e.savedSeq {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
		defer cancel()
		if err := e.store.SaveConversation(ctx, snap); err != nil {
			e.metrics.Event("conversation_save_failed")
			e.logger.Warn("save conversation failed", zap.String("conversation_id", snap.ID), zap.Error(err))
			return
		}
		e.savedSeq = seq
	}()
}

func (e *Engine) waitSaves(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.saves.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (e *Engine) storeAudio(clip synth.Audio) string {
	if e.store == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
	defer cancel()
	ref, err := e.store.StoreAudio(ctx, store.Audio{Data: clip.Data, MIMEType: clip.MIMEType})
	if err != nil {
		e.metrics.Event("audio_store_failed")
		e.logger.Warn("store audio failed", zap.Error(err))
		return ""
	}
	return ref
}

func clipSeconds(clip synth.Audio) float64 {
	pcm, err := audio.Decode(clip.Data, clip.MIMEType)
	if err != nil {
		return 0
	}
	return pcm.Duration().Seconds()
}

// awaitUtterance blocks until the recorder reports the end of an utterance.
// It returns false when the turn was abandoned.
func awaitUtterance(ctx context.Context, events <-chan capture.Event) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case ev, ok := <-events:
			if !ok {
				return false, nil
			}
			switch ev.Kind {
			case capture.EventSilence:
				return true, nil
			case capture.EventError:
				return false, ev.Err
			}
		}
	}
}

type turn struct {
	tok       uint64
	cfg       conversation.Config
	history   []conversation.Message
	exempt    bool
	voiceID   string
	silenceAt time.Time
}

func (e *Engine) runTurn(ctx context.Context, tok uint64, events <-chan capture.Event, cfg conversation.Config) {
	heard, err := awaitUtterance(ctx, events)
	if err != nil {
		e.mu.Lock()
		if e.current(tok) {
			e.failLocked(err)
		}
		e.mu.Unlock()
		return
	}
	if !heard {
		return
	}

	e.mu.Lock()
	if !e.current(tok) {
		e.mu.Unlock()
		return
	}
	_ = e.recorder.Stop()
	rec := e.recorder.Recording()
	t := turn{
		tok:       tok,
		cfg:       cfg,
		history:   slices.Clone(e.conv.Messages),
		exempt:    e.exempt,
		voiceID:   e.voiceID,
		silenceAt: time.Now(),
	}
	e.setStateLocked(StateProcessing)
	e.mu.Unlock()

	e.process(ctx, t, rec)
}

func (e *Engine) process(ctx context.Context, t turn, rec capture.Recording) {
	started := time.Now()
	res, err := e.transcriber.Transcribe(ctx, rec, t.cfg.Voice.InputLanguage)
	e.metrics.ObserveStage(observability.StageTranscribe, time.Since(started))
	if ctx.Err() != nil {
		return
	}
	quality := rec.Quality
	seconds := rec.PCM.Duration().Seconds()

	switch {
	case errors.Is(err, transcribe.ErrNoSpeech):
		e.notice(t.tok, NoticeNoSpeech, "no speech detected")
		e.settle(t.tok, false)
		return
	case err != nil:
		e.logger.Warn("transcription failed", zap.Error(err))
		unheard := conversation.NewMessage(conversation.RoleUser, UnheardPlaceholder, e.now())
		unheard.DurationSeconds = seconds
		unheard.Quality = &quality
		if !e.appendMessage(t.tok, unheard) {
			return
		}
		e.notice(t.tok, NoticeTranscriptionFailed, err.Error())
		e.speak(ctx, t, NotUnderstoodReply)
		return
	}

	words := quota.CountWords(res.Text)
	if check := e.quota.CheckLimit(ctx, words, t.exempt); !check.Allowed {
		e.metrics.Event("limit_reached")
		e.mu.Lock()
		if e.current(t.tok) {
			e.emit(Event{
				Type:           EventNotice,
				ConversationID: e.conv.ID,
				Notice:         NoticeLimitReached,
				Detail:         fmt.Sprintf("daily limit reached: %d words used", check.UsedWords),
				Warning:        check.Notification,
			})
			e.setStateLocked(StateIdle)
		}
		e.mu.Unlock()
		return
	}

	user := conversation.NewMessage(conversation.RoleUser, res.Text, e.now())
	user.Confidence = res.Confidence
	user.DurationSeconds = seconds
	user.Quality = &quality
	if !e.appendMessage(t.tok, user) {
		return
	}
	if usage := e.quota.RecordUsage(ctx, res.Text, t.exempt); len(usage.Notifications) > 0 {
		e.mu.Lock()
		if e.current(t.tok) {
			for _, w := range usage.Notifications {
				e.emit(Event{Type: EventQuotaWarning, ConversationID: e.conv.ID, Warning: &w, Detail: w.Message})
			}
		}
		e.mu.Unlock()
	}

	started = time.Now()
	reply := e.responder.Generate(ctx, t.history, res.Text, t.cfg)
	e.metrics.ObserveStage(observability.StageGenerate, time.Since(started))
	if ctx.Err() != nil {
		return
	}
	if reply.Degraded {
		e.logger.Warn("reply degraded", zap.Error(reply.Err))
	}
	e.speak(ctx, t, reply.Text)
}

// speak synthesizes text, appends it as the assistant message and plays it.
// A synthesis failure still records the reply as text.
func (e *Engine) speak(ctx context.Context, t turn, text string) {
	started := time.Now()
	clip, err := e.synth.Synthesize(ctx, generate.SanitizeForSpeech(text), t.voiceID, synth.Settings{
		Speed:    t.cfg.Voice.Rate,
		Language: t.cfg.Voice.OutputLanguage,
		Gender:   t.cfg.Voice.Gender,
	})
	e.metrics.ObserveStage(observability.StageSynthesize, time.Since(started))
	if ctx.Err() != nil {
		return
	}

	msg := conversation.NewMessage(conversation.RoleAssistant, text, e.now())
	if err == nil {
		msg.AudioRef = e.storeAudio(clip)
		msg.DurationSeconds = clipSeconds(clip)
	} else {
		e.logger.Warn("synthesis failed", zap.Error(err))
	}

	e.mu.Lock()
	if !e.current(t.tok) {
		e.mu.Unlock()
		return
	}
	e.appendLocked(msg)
	e.conv.ObserveResponseTime(time.Since(t.silenceAt))
	if err != nil {
		if !errors.Is(err, synth.ErrEmptyText) {
			e.emit(Event{Type: EventNotice, ConversationID: e.conv.ID, Notice: NoticeSynthesisUnavailable, Detail: err.Error()})
		}
		e.settleLocked(true)
		e.mu.Unlock()
		return
	}
	_ = e.recorder.Stop()
	done := e.player.Play(ctx, clip, playback.Settings{Volume: t.cfg.Voice.Volume})
	e.setStateLocked(StateSpeaking)
	e.mu.Unlock()
	e.metrics.ObserveTurnLatency(time.Since(t.silenceAt))

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, playback.ErrStopped) {
			e.logger.Warn("playback failed", zap.Error(err))
		}
	case <-ctx.Done():
		return
	}
	e.settle(t.tok, true)
}

func (e *Engine) appendMessage(tok uint64, m conversation.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.current(tok) {
		return false
	}
	e.appendLocked(m)
	return true
}

func (e *Engine) settle(tok uint64, relisten bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current(tok) {
		e.settleLocked(relisten)
	}
}
