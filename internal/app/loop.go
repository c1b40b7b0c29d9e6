package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/urecho/urecho/internal/actions"
	"github.com/urecho/urecho/internal/barge"
	"github.com/urecho/urecho/internal/history"
	"github.com/urecho/urecho/internal/monitor"
	"github.com/urecho/urecho/internal/session"
	"github.com/urecho/urecho/internal/shape"
	"github.com/urecho/urecho/internal/textkit"
	"github.com/urecho/urecho/pkg/provider/gen"
	"github.com/urecho/urecho/pkg/provider/wake"
)

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run executes the standby loop until ctx is cancelled. The monitor server
// runs alongside when configured. A plain cancellation returns ctx.Err().
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.mon != nil {
		g.Go(func() error { return a.mon.Run(ctx) })
	}
	g.Go(func() error { return a.standby(ctx) })
	return g.Wait()
}

// standby polls the wake arbiter and hands accepted triggers to runSession.
func (a *App) standby(ctx context.Context) error {
	a.log.Info("standby", "engines", a.arb.Names())
	for {
		hit, err := a.arb.Wait(ctx, a.cfg.Wake.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wake poll: %w", err)
		}
		if hit == nil {
			continue
		}
		a.meter.RecordWakeTrigger(ctx, hit.Engine, true)
		a.feed.Publish(monitor.Event{
			Kind:   monitor.EventWake,
			At:     time.Now(),
			Engine: hit.Engine,
			Phrase: hit.Keyword,
			Lang:   hit.Lang,
			Score:  hit.Score,
		})
		a.hist.LogWake(history.Wake{
			Engine:   hit.Engine,
			Phrase:   hit.Keyword,
			Lang:     hit.Lang,
			Score:    hit.Score,
			Accepted: true,
		})

		a.runSession(ctx, hit)

		// Hold off re-arming wake detection until the session's own
		// goodbye has faded from the room.
		if !sleepCtx(ctx, a.cfg.Session.EchoHold) {
			return ctx.Err()
		}
	}
}

// ─── Session ─────────────────────────────────────────────────────────────────

// runSession owns one wake-to-standby conversation.
func (a *App) runSession(ctx context.Context, hit *wake.Hit) {
	lang := hit.Lang
	if lang == "" {
		lang = "en"
	}
	sessionID := newSessionID()
	log := a.log.With("session", sessionID)

	if !a.machine.Wake() {
		return
	}
	a.meter.SessionsStarted.Add(ctx, 1)
	a.hist.StartSession(sessionID, lang)
	a.exit.Reset()

	var reason string
	defer func() {
		a.machine.SetStandby(reason)
		a.meter.RecordSessionEnd(ctx, reason)
		a.hist.EndSession(sessionID, reason)
		log.Info("session ended", "reason", reason)
	}()

	log.Info("session started", "engine", hit.Engine, "phrase", hit.Keyword, "lang", lang)
	a.acknowledge(ctx, lang)
	reason = a.converse(ctx, sessionID, lang, log)
}

// acknowledge speaks the wake acknowledgement before listening starts. The
// cached clip wins; synthesis is the fallback.
func (a *App) acknowledge(ctx context.Context, lang string) {
	a.meter.SpeakCalls.Add(ctx, 1)
	if a.providers.TTS.SayCached(ctx, "ack_"+lang, lang) {
		return
	}
	text := a.ackText(lang)
	if text == "" {
		text = defaultAck(lang)
	}
	if err := a.providers.TTS.Say(ctx, text, lang); err != nil {
		a.log.Warn("acknowledgement failed", "error", err)
	}
}

// converse runs the listen, transcribe, reply loop until the session ends.
// The return value is the session end reason.
func (a *App) converse(ctx context.Context, sessionID, lang string, log *slog.Logger) string {
	var (
		lastReply  string
		shortCount int
	)
	for {
		if ctx.Err() != nil {
			return "shutdown"
		}
		if a.exit.Pending() {
			return "exit"
		}
		if a.machine.IdleExpired() {
			log.Info("session idle, returning to standby")
			return "idle"
		}

		pcm, voiced, err := a.rec.Record(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "shutdown"
			}
			log.Error("recording failed", "error", err)
			return "error"
		}
		if pcm == nil {
			continue
		}
		if voiced < a.cfg.Session.MinUtterance {
			shortCount++
			if shortCount == 1 || shortCount%10 == 0 {
				log.Debug("utterance too short", "voiced", voiced, "count", shortCount)
			}
			continue
		}
		shortCount = 0
		a.machine.Touch()
		a.setTurnStart(time.Now())

		text, resLang, heard := a.transcribe(ctx, pcm, log)
		if text == "" {
			continue
		}
		if resLang != "" {
			lang = resLang
		}
		if fixed, _, ok := a.corrector.Correct(text, a.commandList()); ok {
			log.Debug("snapped to command", "heard", text, "command", fixed)
			text = fixed
		}
		if isEcho(text, lastReply) {
			log.Debug("own echo discarded", "text", text)
			continue
		}
		if a.exit.OnText(ctx, text, false) {
			continue
		}
		if !a.machine.Think() {
			continue
		}
		a.meter.Interactions.Add(ctx, 1)

		prior := a.machine.History().Turns()
		a.machine.History().Add(session.RoleUser, text)
		a.hist.LogTurn(sessionID, history.Turn{
			Role:  string(session.RoleUser),
			Text:  text,
			Lang:  lang,
			Heard: heard,
		})

		reply := a.turn(ctx, text, lang, prior, log)
		if a.exit.Pending() {
			continue
		}
		if reply == "" {
			a.meter.UnknownReplies.Add(ctx, 1)
			a.sayFallback(ctx, gen.FallbackEmpty, lang)
			continue
		}
		lastReply = reply
		a.machine.History().Add(session.RoleAssistant, reply)
		a.hist.LogTurn(sessionID, history.Turn{
			Role:  string(session.RoleAssistant),
			Text:  reply,
			Lang:  lang,
			Spoke: a.lastTTFT(),
		})
		a.backToListening()
		a.machine.Touch()
	}
}

// ─── Turn ────────────────────────────────────────────────────────────────────

// turn streams one reply through the chunk shaper into speech and returns
// the full reply text. Generation, shaping and barge listening all hang off
// one per-turn context.
func (a *App) turn(ctx context.Context, text, lang string, prior []session.Turn, log *slog.Logger) string {
	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	genStart := time.Now()
	tokens, err := a.providers.Gen.GenerateStream(tctx, gen.Request{
		Prompt:  text,
		Lang:    lang,
		Mode:    gen.ModePrecise,
		History: toGenTurns(prior),
	})
	if err != nil {
		a.meter.RecordProviderError(ctx, "gen", "stream")
		log.Warn("generation failed", "error", err)
		a.sayFallback(ctx, gen.FallbackError, lang)
		return ""
	}

	// The tee owns the reply builder: it forwards tokens to the shaper
	// while collecting the full text, and hands the text over exactly
	// once. Cancelling tctx closes the token stream, so the tee always
	// terminates.
	teed := make(chan string, 16)
	fullCh := make(chan string, 1)
	go func() {
		defer close(teed)
		var full strings.Builder
		defer func() { fullCh <- full.String() }()
		first := true
		for tok := range tokens {
			if first {
				first = false
				a.meter.GenFirstToken.Record(tctx, time.Since(genStart).Seconds())
			}
			full.WriteString(tok)
			select {
			case teed <- tok:
			case <-tctx.Done():
				return
			}
		}
		a.meter.GenDuration.Record(tctx, time.Since(genStart).Seconds())
	}()

	shaped := shape.Shape(tctx, teed, a.shaperConfig())
	lst, stop := a.armBarge(tctx, log)

	speakStart := time.Now()
	a.meter.SpeakCalls.Add(ctx, 1)
	if err := a.coord.Speak(tctx, shaped, lang); err != nil && ctx.Err() == nil {
		log.Warn("speak failed", "error", err)
	}
	a.meter.TTSDuration.Record(ctx, time.Since(speakStart).Seconds())

	cancel()
	if lst != nil {
		a.disarmBarge(lst, stop)
	}

	reply := <-fullCh
	reply, _ = actions.Extract(reply)
	return strings.TrimSpace(reply)
}

// transcribe runs speech recognition and returns the text, the detected
// language and the recognition latency.
func (a *App) transcribe(ctx context.Context, pcm []int16, log *slog.Logger) (string, string, time.Duration) {
	start := time.Now()
	res, err := a.providers.ASR.TranscribeBilingual(ctx, pcm)
	heard := time.Since(start)
	a.meter.ASRDuration.Record(ctx, heard.Seconds())
	if err != nil {
		a.meter.RecordProviderError(ctx, "asr", "transcribe")
		log.Warn("transcription failed", "error", err)
		return "", "", 0
	}
	text := strings.TrimSpace(res.Text)
	if text != "" {
		log.Debug("heard", "text", text, "lang", res.Lang, "confidence", res.Confidence)
	}
	return text, res.Lang, heard
}

// sayFallback speaks a canned line when generation produced nothing usable.
func (a *App) sayFallback(ctx context.Context, key, lang string) {
	if a.exit.Pending() {
		return
	}
	text := a.lookupFallback(key, lang)
	a.machine.Speak()
	a.meter.SpeakCalls.Add(ctx, 1)
	if err := a.providers.TTS.Say(ctx, text, lang); err != nil {
		a.log.Warn("fallback speech failed", "error", err)
	}
	a.machine.Listen()
}

// backToListening returns the machine to Listening after a reply. A reply
// cut before its first chunk leaves the machine in Thinking, which has to
// pass through Speaking on the way back.
func (a *App) backToListening() {
	if a.machine.Listen() {
		return
	}
	if a.machine.State() == session.Thinking {
		a.machine.Speak()
		a.machine.Listen()
	}
}

// ─── Barge ───────────────────────────────────────────────────────────────────

// armBarge opens the interrupt listener for one reply. Returns nils when
// barge-in is disabled or the listener cannot start; the reply then plays
// uninterruptible.
func (a *App) armBarge(ctx context.Context, log *slog.Logger) (*barge.Listener, chan struct{}) {
	if a.cfg.Barge.Disabled {
		return nil, nil
	}
	lst, err := barge.NewListener(ctx, a.providers.Capture, a.providers.VAD, a.bargeConfig(), log,
		barge.WithSpotters(a.spotters...))
	if err != nil {
		log.Warn("barge listener unavailable for this turn", "error", err)
		return nil, nil
	}
	a.meter.OpenStreams.Add(ctx, 1)
	a.setListener(lst)
	stop := make(chan struct{})
	go a.watchBarge(ctx, lst, stop)
	return lst, stop
}

// watchBarge reacts to interrupt events until the stop channel closes.
func (a *App) watchBarge(ctx context.Context, lst *barge.Listener, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-lst.Events():
			if !ok {
				return
			}
			if ev.Stop() {
				a.feed.Publish(monitor.Event{
					Kind:   monitor.EventStop,
					At:     time.Now(),
					Phrase: ev.Keyword,
					Score:  ev.Score,
				})
				a.meter.RecordAbort(ctx, "stop")
				a.log.Info("stop keyword", "keyword", ev.Keyword)
				if a.endsSession[ev.Keyword] {
					a.exit.Trigger(ctx, ev.Keyword)
				} else {
					a.coord.Stop()
				}
				continue
			}
			a.feed.Publish(monitor.Event{
				Kind:  monitor.EventBarge,
				At:    time.Now(),
				Score: ev.Score,
			})
			a.meter.BargeIns.Add(ctx, 1)
			a.meter.RecordAbort(ctx, "barge")
			a.log.Info("barge-in, reply cut")
			a.coord.Stop()
		}
	}
}

// disarmBarge tears down the per-reply interrupt listener. The watcher goes
// first so a closing event channel cannot spin it.
func (a *App) disarmBarge(lst *barge.Listener, stop chan struct{}) {
	close(stop)
	if err := lst.Close(); err != nil {
		a.log.Debug("barge listener close", "error", err)
	}
	a.setListener(nil)
	a.meter.OpenStreams.Add(context.Background(), -1)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func toGenTurns(turns []session.Turn) []gen.Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]gen.Turn, 0, len(turns))
	for _, t := range turns {
		role := gen.RoleUser
		if t.Role == session.RoleAssistant {
			role = gen.RoleAssistant
		}
		out = append(out, gen.Turn{Role: role, Text: t.Text})
	}
	return out
}

func (a *App) shaperConfig() shape.Config {
	s := a.cfg.TTS.Shaper
	return shape.Config{
		PrebufferChars: s.PrebufferChars,
		MinChunkChars:  s.MinChunkChars,
		SoftMaxChars:   s.SoftMaxChars,
		MinCutChars:    s.MinCutChars,
		MaxIdle:        s.MaxIdle,
	}
}

func (a *App) bargeConfig() barge.Config {
	cfg := barge.DefaultConfig()
	if a.cfg.Audio.SampleRate != 0 {
		cfg.SampleRate = a.cfg.Audio.SampleRate
	}
	if a.cfg.Audio.BlockMs != 0 {
		cfg.BlockMs = a.cfg.Audio.BlockMs
	}
	if a.cfg.Barge.MinRMSDBFS != 0 {
		cfg.MinRMSDBFS = a.cfg.Barge.MinRMSDBFS
	}
	if a.cfg.Barge.NeedVoice != 0 {
		cfg.NeedVoice = a.cfg.Barge.NeedVoice
	}
	if a.cfg.Barge.ArmAfter != 0 {
		cfg.ArmAfter = a.cfg.Barge.ArmAfter
	}
	if a.cfg.Barge.Cooldown != 0 {
		cfg.Cooldown = a.cfg.Barge.Cooldown
	}
	if a.cfg.Barge.QueueDepth != 0 {
		cfg.QueueDepth = a.cfg.Barge.QueueDepth
	}
	return cfg
}

// isEcho reports whether heard text is the assistant's own reply leaking
// back through the microphone.
func isEcho(text, lastReply string) bool {
	if lastReply == "" {
		return false
	}
	t, r := textkit.Normalize(text), textkit.Normalize(lastReply)
	if len(t) <= 8 || len(r) <= 8 {
		return false
	}
	return textkit.PartialRatio(t, r) >= 85
}

// sleepCtx waits d or until ctx cancels. Reports whether the full wait
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func defaultAck(lang string) string {
	if lang == "ro" {
		return "Da?"
	}
	return "Yes?"
}

// newSessionID returns a timestamped id unique enough for log correlation.
func newSessionID() string {
	return fmt.Sprintf("%s-%04x", time.Now().Format("20060102-150405"), rand.IntN(0x10000))
}
