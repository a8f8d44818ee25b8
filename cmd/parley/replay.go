package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/antoniostano/parley/internal/audio"
	"github.com/antoniostano/parley/internal/protocol"
	"github.com/antoniostano/parley/internal/synth"
)

type replayOptions struct {
	baseURL     string
	userID      string
	text        string
	wavPath     string
	turns       int
	chunkMS     int
	realtime    float64
	tailSilence time.Duration
	turnTimeout time.Duration
	interTurn   time.Duration
	verbose     bool
}

var replayOpts replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Drive synthetic turns against a running server",
	Long: `Opens a session on a running parley server, streams an utterance over
the websocket for each turn and reports how long the server took from the
end of the utterance to the first assistant audio.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		o := replayOpts
		if err := o.validate(); err != nil {
			return err
		}
		return runReplay(cmd.Context(), cmd.OutOrStdout(), o)
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayOpts.baseURL, "base-url", "http://127.0.0.1:8080", "parley server URL")
	f.StringVar(&replayOpts.userID, "user-id", "replay", "user_id for the session")
	f.StringVar(&replayOpts.text, "text", "what is the weather like today", "utterance rendered as tones when --wav is not set")
	f.StringVar(&replayOpts.wavPath, "wav", "", "WAV file to send as the utterance")
	f.IntVar(&replayOpts.turns, "turns", 5, "number of turns")
	f.IntVar(&replayOpts.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	f.Float64Var(&replayOpts.realtime, "realtime", 1.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	f.DurationVar(&replayOpts.tailSilence, "tail-silence", 1500*time.Millisecond, "silence appended so the server detects the end of speech")
	f.DurationVar(&replayOpts.turnTimeout, "turn-timeout", 30*time.Second, "timeout per turn")
	f.DurationVar(&replayOpts.interTurn, "inter-turn", 200*time.Millisecond, "pause between turns")
	f.BoolVar(&replayOpts.verbose, "verbose", false, "print every turn")
	rootCmd.AddCommand(replayCmd)
}

func (o *replayOptions) validate() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	switch {
	case o.baseURL == "":
		return errors.New("base-url is required")
	case o.turns <= 0:
		return errors.New("turns must be > 0")
	case o.chunkMS < 10 || o.chunkMS > 2000:
		return errors.New("chunk-ms must be in [10,2000]")
	case o.realtime <= 0:
		return errors.New("realtime must be > 0")
	case o.turnTimeout < time.Second:
		return errors.New("turn-timeout must be at least 1s")
	}
	return nil
}

type inbound struct {
	Type   string `json:"type"`
	State  string `json:"state"`
	Seq    int    `json:"seq"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func runReplay(ctx context.Context, out io.Writer, o replayOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	utterance, err := loadUtterance(ctx, o)
	if err != nil {
		return fmt.Errorf("prepare utterance: %w", err)
	}
	speechLen := len(utterance.Samples)
	utterance.Samples = append(utterance.Samples, make([]int16, int(o.tailSilence.Seconds()*float64(utterance.SampleRate)))...)

	client := &http.Client{Timeout: 30 * time.Second}
	sessionID, err := createReplaySession(ctx, client, o)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer endReplaySession(client, o.baseURL, sessionID)

	wsURL, err := wsURLForSession(o.baseURL, sessionID)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	msgs := make(chan inbound, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			var m inbound
			if err := conn.ReadJSON(&m); err != nil {
				readErr <- err
				return
			}
			select {
			case msgs <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	r := &replayer{conn: conn, sessionID: sessionID, msgs: msgs, readErr: readErr, timeout: o.turnTimeout}
	var latencies []time.Duration
	failed := 0
	for i := 0; i < o.turns; i++ {
		lat, err := r.turn(utterance, speechLen, o)
		if err != nil {
			failed++
			fmt.Fprintf(out, "turn %d: %v\n", i+1, err)
			if errors.Is(err, errConnection) {
				break
			}
		} else {
			latencies = append(latencies, lat)
			if o.verbose {
				fmt.Fprintf(out, "turn %d: first audio after %s\n", i+1, lat.Round(time.Millisecond))
			}
		}
		if o.interTurn > 0 && i < o.turns-1 {
			time.Sleep(o.interTurn)
		}
	}

	fmt.Fprintf(out, "session %s: %d turns, %d failed\n", sessionID, o.turns, failed)
	if s, ok := summarize(latencies); ok {
		fmt.Fprintf(out, "first audio: min %s  p50 %s  p95 %s  max %s\n",
			s.min.Round(time.Millisecond), s.p50.Round(time.Millisecond),
			s.p95.Round(time.Millisecond), s.max.Round(time.Millisecond))
	}
	if failed == o.turns {
		return errors.New("every turn failed")
	}
	return nil
}

var errConnection = errors.New("websocket closed")

type replayer struct {
	conn      *websocket.Conn
	sessionID string
	msgs      <-chan inbound
	readErr   <-chan error
	timeout   time.Duration
	seq       int
}

// turn sends one utterance and returns the time from the end of its speech
// to the first assistant clip. Samples past speechLen are trailing silence.
func (r *replayer) turn(utterance audio.PCM, speechLen int, o replayOptions) (time.Duration, error) {
	if err := r.control(protocol.ActionStart, 0); err != nil {
		return 0, err
	}
	if _, err := r.await(func(m inbound) bool { return m.Type == "state_changed" && m.State == "listening" }); err != nil {
		return 0, err
	}

	chunkSamples := utterance.SampleRate * o.chunkMS / 1000
	pace := time.Duration(float64(o.chunkMS) * float64(time.Millisecond) / o.realtime)
	var (
		sent     int
		speechAt time.Time
	)
	for _, chunk := range chunkPCM(utterance.Samples, chunkSamples) {
		r.seq++
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			SessionID:   r.sessionID,
			Seq:         r.seq,
			PCM16Base64: base64.StdEncoding.EncodeToString(audio.Int16ToBytes(chunk)),
			SampleRate:  utterance.SampleRate,
			TSMs:        time.Now().UnixMilli(),
		}
		if err := r.conn.WriteJSON(msg); err != nil {
			return 0, fmt.Errorf("%w: %v", errConnection, err)
		}
		sent += len(chunk)
		if speechAt.IsZero() && sent >= speechLen {
			speechAt = time.Now()
		}
		time.Sleep(pace)
	}

	clip, err := r.await(func(m inbound) bool { return m.Type == "assistant_audio" })
	if err != nil {
		return 0, err
	}
	latency := time.Since(speechAt)
	if err := r.control(protocol.ActionPlaybackDone, clip.Seq); err != nil {
		return 0, err
	}
	if _, err := r.await(func(m inbound) bool { return m.Type == "state_changed" && m.State == "idle" }); err != nil {
		return 0, err
	}
	return latency, nil
}

func (r *replayer) control(action string, seq int) error {
	err := r.conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: r.sessionID,
		Action:    action,
		Seq:       seq,
		TSMs:      time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errConnection, err)
	}
	return nil
}

// await reads until match succeeds. Notices that end a turn early and error
// events fail the wait.
func (r *replayer) await(match func(inbound) bool) (inbound, error) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	for {
		select {
		case m := <-r.msgs:
			if match(m) {
				return m, nil
			}
			switch m.Type {
			case "notice":
				if m.Code == "no_speech" || m.Code == "limit_reached" || m.Code == "synthesis_unavailable" {
					return inbound{}, fmt.Errorf("server notice %s", m.Code)
				}
			case "error_event":
				return inbound{}, fmt.Errorf("server error %s: %s", m.Code, m.Detail)
			}
		case err := <-r.readErr:
			return inbound{}, fmt.Errorf("%w: %v", errConnection, err)
		case <-timer.C:
			return inbound{}, fmt.Errorf("timeout after %s", r.timeout)
		}
	}
}

func loadUtterance(ctx context.Context, o replayOptions) (audio.PCM, error) {
	if o.wavPath != "" {
		data, err := os.ReadFile(o.wavPath)
		if err != nil {
			return audio.PCM{}, err
		}
		return audio.Decode(data, "")
	}
	clip, err := synth.NewToneBackend().Synthesize(ctx, synth.Request{Text: o.text})
	if err != nil {
		return audio.PCM{}, err
	}
	return audio.Decode(clip.Data, clip.MIMEType)
}

func createReplaySession(ctx context.Context, client *http.Client, o replayOptions) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"user_id": o.userID,
		"config":  map[string]any{"policy": map[string]any{"auto_respond": false}},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/voice/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var created struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return "", err
	}
	if created.SessionID == "" {
		return "", errors.New("missing session_id in response")
	}
	return created.SessionID, nil
}

func endReplaySession(client *http.Client, baseURL, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return
	}
	res, err := client.Do(req)
	if err != nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	res.Body.Close()
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// chunkPCM splits samples into chunks of size n; the last one may be short.
func chunkPCM(samples []int16, n int) [][]int16 {
	if n <= 0 {
		n = 1
	}
	var out [][]int16
	for off := 0; off < len(samples); off += n {
		out = append(out, samples[off:min(off+n, len(samples))])
	}
	return out
}

type latencySummary struct {
	min, p50, p95, max time.Duration
}

func summarize(d []time.Duration) (latencySummary, bool) {
	if len(d) == 0 {
		return latencySummary{}, false
	}
	sorted := slices.Clone(d)
	slices.Sort(sorted)
	at := func(q float64) time.Duration {
		i := int(q*float64(len(sorted))+0.5) - 1
		return sorted[max(0, min(i, len(sorted)-1))]
	}
	return latencySummary{
		min: sorted[0],
		p50: at(0.50),
		p95: at(0.95),
		max: sorted[len(sorted)-1],
	}, true
}
