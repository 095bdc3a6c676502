// Package simulator emulates a live bot process after a successful build:
// a countdown, an automatic shutdown, and synthetic traffic logs.
//
// All three timers of a run live in one goroutine. Stop cancels that goroutine
// and waits for it, so nothing is logged for a run after Stop returns.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/jxucoder/botforge/model"
)

const (
	msgStarting    = "Starting bot process..."
	msgAutoStopped = "Bot automatically stopped after 10 minutes."
	msgManualStop  = "Bot manually stopped."
	defaultName    = "YourBot"
)

// Config controls the simulated process lifetime and traffic cadence.
type Config struct {
	// Seconds is the countdown length in ticks.
	Seconds int
	// Tick is the countdown resolution. The shutdown fires after Seconds*Tick.
	Tick time.Duration
	// MinLogDelay and MaxLogDelay bound the uniformly random delay between
	// synthetic log entries: [MinLogDelay, MaxLogDelay).
	MinLogDelay time.Duration
	MaxLogDelay time.Duration
	// Rand picks delays and templates. Nil uses the global source.
	Rand *rand.Rand
}

// DefaultConfig is a ten minute run at 1 Hz with a log line every 2 to 7 seconds.
func DefaultConfig() Config {
	return Config{
		Seconds:     600,
		Tick:        time.Second,
		MinLogDelay: 2 * time.Second,
		MaxLogDelay: 7 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Seconds <= 0 {
		c.Seconds = d.Seconds
	}
	if c.Tick <= 0 {
		c.Tick = d.Tick
	}
	if c.MinLogDelay <= 0 {
		c.MinLogDelay = d.MinLogDelay
	}
	if c.MaxLogDelay <= 0 {
		c.MaxLogDelay = d.MaxLogDelay
	}
}

// Simulator is a two-state (stopped/running) process emulator.
type Simulator struct {
	cfg      Config
	listener func(model.LogEntry)

	// ctl serializes Start, Stop, and Close.
	ctl sync.Mutex

	mu        sync.Mutex
	running   bool
	remaining int
	log       *model.RuntimeLog
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a stopped simulator. listener, if non-nil, receives every
// runtime log entry outside the simulator's lock.
func New(cfg Config, listener func(model.LogEntry)) *Simulator {
	cfg.applyDefaults()
	return &Simulator{
		cfg:      cfg,
		listener: listener,
		log:      model.NewRuntimeLog(model.RuntimeLogLimit),
	}
}

// Start launches a fresh run, stopping the current one first.
func (s *Simulator) Start(botUsername string) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.stop()

	name := strings.TrimPrefix(strings.TrimSpace(botUsername), "@")
	if name == "" {
		name = defaultName
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.log.Reset()
	first := s.appendLocked(model.LogCommand, msgStarting)
	second := s.appendLocked(model.LogSuccess, fmt.Sprintf("Successfully connected as @%s. Bot is now live.", name))
	s.running = true
	s.remaining = s.cfg.Seconds
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.notify(first, second)
	go s.loop(ctx, cancel, done)
}

// Stop ends the current run with a manual-stop message. It is a no-op when
// nothing is running.
func (s *Simulator) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stop()
}

// Close tears down any run without logging. Call it on session reset and
// on shutdown.
func (s *Simulator) Close() {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	done := s.cancelLocked()
	s.running = false
	s.remaining = 0
	s.log.Reset()
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// stop cancels the run loop and waits for it. Callers hold ctl.
func (s *Simulator) stop() {
	s.mu.Lock()
	var entry *model.LogEntry
	if s.running {
		e := s.appendLocked(model.LogInfo, msgManualStop)
		entry = &e
	}
	done := s.cancelLocked()
	s.running = false
	s.remaining = 0
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if entry != nil {
		s.notify(*entry)
	}
}

// cancelLocked cancels the run loop while s.mu is held, so the loop sees a
// canceled context before it can append again. It returns the loop's done
// channel, or nil when no loop was started. Callers hold s.mu.
func (s *Simulator) cancelLocked() chan struct{} {
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	if cancel != nil {
		cancel()
	}
	return done
}

// Status returns a snapshot of the simulated process.
func (s *Simulator) Status() model.RuntimeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.RuntimeStatus{
		Running:          s.running,
		SecondsRemaining: s.remaining,
		Log:              s.log.Entries(),
	}
}

// Running reports whether a run is active.
func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SecondsRemaining returns the countdown value.
func (s *Simulator) SecondsRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

func (s *Simulator) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	shutdown := time.NewTimer(time.Duration(s.cfg.Seconds) * s.cfg.Tick)
	defer shutdown.Stop()
	traffic := time.NewTimer(s.nextDelay())
	defer traffic.Stop()

	countdown := ticker.C
	for {
		select {
		case <-ctx.Done():
			return

		case <-countdown:
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			if s.remaining > 0 {
				s.remaining--
			}
			if s.remaining == 0 {
				countdown = nil
			}
			s.mu.Unlock()

		case <-shutdown.C:
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			e := s.appendLocked(model.LogInfo, msgAutoStopped)
			s.running = false
			s.remaining = 0
			s.mu.Unlock()
			s.notify(e)
			return

		case <-traffic.C:
			kind, msg := s.syntheticEntry()
			s.mu.Lock()
			if ctx.Err() != nil {
				s.mu.Unlock()
				return
			}
			e := s.appendLocked(kind, msg)
			s.mu.Unlock()
			s.notify(e)
			traffic.Reset(s.nextDelay())
		}
	}
}

func (s *Simulator) appendLocked(kind model.LogKind, msg string) model.LogEntry {
	e := model.NewLogEntry(kind, msg)
	s.log.Append(e)
	return e
}

func (s *Simulator) notify(entries ...model.LogEntry) {
	if s.listener == nil {
		return
	}
	for _, e := range entries {
		s.listener(e)
	}
}

func (s *Simulator) intN(n int) int {
	if s.cfg.Rand != nil {
		return s.cfg.Rand.IntN(n)
	}
	return rand.IntN(n)
}

func (s *Simulator) nextDelay() time.Duration {
	span := s.cfg.MaxLogDelay - s.cfg.MinLogDelay
	if span <= 0 {
		return s.cfg.MinLogDelay
	}
	var jitter int64
	if s.cfg.Rand != nil {
		jitter = s.cfg.Rand.Int64N(int64(span))
	} else {
		jitter = rand.Int64N(int64(span))
	}
	return s.cfg.MinLogDelay + time.Duration(jitter)
}

var (
	users    = []string{"@IllogicalCoder", "@janedoe", "@testuser", "@botlover"}
	commands = []string{"/start", "/help", "/quiz", "/leaderboard", "hello there", "what can you do?"}
	replies  = []string{"Here is the quiz!", "Welcome! How can I help?", "Here is the leaderboard:", "I am a trivia bot."}
)

const templateCount = 6

func (s *Simulator) syntheticEntry() (model.LogKind, string) {
	pick := func(xs []string) string { return xs[s.intN(len(xs))] }

	switch s.intN(templateCount) {
	case 0:
		return model.LogInfo, fmt.Sprintf("[Message] from %s: %s", pick(users), pick(commands))
	case 1:
		return model.LogInfo, "Processing message..."
	case 2:
		return model.LogSuccess, fmt.Sprintf("Sent reply: %q", pick(replies))
	case 3:
		return model.LogInfo, "Polling for updates..."
	case 4:
		return model.LogInfo, fmt.Sprintf("[Callback] from %s: answer_A", pick(users))
	default:
		return model.LogCommand, `HTTP Request: POST https://api.telegram.org/.../sendMessage "HTTP/1.1 200 OK"`
	}
}
