package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/recognizer"
	"rollcall/internal/store"
)

// DefaultInterval is the pause between two scan ticks.
const DefaultInterval = 2 * time.Second

const publishTimeout = time.Second

var (
	// ErrNoDetection is the recognizer's "no usable face" outcome.
	ErrNoDetection = recognizer.ErrNoDetection
	// ErrNoSubject means Start was called without a subject.
	ErrNoSubject = errors.New("subject required")
	// ErrUnknownSubject means the subject is not in the store.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrSessionActive means another session is already scanning.
	ErrSessionActive = errors.New("scan session already active")
	// ErrNoSession means there is no session to stop.
	ErrNoSession = errors.New("no active scan session")
	// ErrCamera wraps a FrameSource that could not be opened.
	ErrCamera = errors.New("camera unavailable")
)

// Detector extracts a descriptor from a frame.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]float32, error)
}

// Publisher receives attendance.marked events.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Options tunes a Scanner.
type Options struct {
	Interval time.Duration
	// Debug logs ticks that found no face.
	Debug bool
}

// Scanner runs at most one scanning session at a time.
type Scanner struct {
	store    *store.Store
	detector Detector
	matcher  *Matcher
	pub      Publisher
	opts     Options

	mu     sync.Mutex
	active *Session
}

// NewScanner wires a scanner. pub may be nil.
func NewScanner(st *store.Store, detector Detector, matcher *Matcher, pub Publisher, opts Options) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Scanner{store: st, detector: detector, matcher: matcher, pub: pub, opts: opts}
}

// Start opens frames and begins ticking for subject.
func (s *Scanner) Start(ctx context.Context, subject string, frames FrameSource) (*Session, error) {
	if subject == "" {
		return nil, ErrNoSubject
	}
	if frames == nil {
		return nil, fmt.Errorf("%w: no frame source", ErrCamera)
	}
	known, err := s.store.HasSubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubject, subject)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil, ErrSessionActive
	}
	if err := frames.Open(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCamera, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &Session{
		ID:        ulid.Make().String(),
		Subject:   subject,
		StartedAt: time.Now().UTC(),
		scanner:   s,
		frames:    frames,
		cancel:    cancel,
		done:      make(chan struct{}),
		seen:      make(map[string]struct{}),
	}
	s.active = sess
	metrics.ActiveSessions.Inc()
	log.Printf("scan session %s started for %q", sess.ID, subject)

	go sess.run(runCtx, s.opts.Interval)
	return sess, nil
}

// Stop ends the active session and returns it.
func (s *Scanner) Stop() (*Session, error) {
	sess := s.Active()
	if sess == nil {
		return nil, ErrNoSession
	}
	sess.Stop()
	return sess, nil
}

// Active returns the running session, or nil.
func (s *Scanner) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scanner) release(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == sess {
		s.active = nil
		metrics.ActiveSessions.Dec()
	}
}

// Mark is one attendance record written by a session.
type Mark struct {
	Record store.AttendanceRecord `json:"record"`
	Match  Match                  `json:"match"`
}

// Session is one Idle→Scanning→Idle cycle.
type Session struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	StartedAt time.Time `json:"started_at"`

	scanner  *Scanner
	frames   FrameSource
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	seen    map[string]struct{}
	marks   []Mark
	stopped bool
}

// Stop cancels the tick loop and waits for an in-flight tick to finish, so no
// record is written once Stop returns. The dedup set is cleared.
func (sess *Session) Stop() {
	sess.stopOnce.Do(func() {
		sess.cancel()
		<-sess.done
		if err := sess.frames.Close(); err != nil {
			log.Printf("scan session %s: close frames: %v", sess.ID, err)
		}
		sess.mu.Lock()
		sess.stopped = true
		sess.seen = make(map[string]struct{})
		marked := len(sess.marks)
		sess.mu.Unlock()
		sess.scanner.release(sess)
		log.Printf("scan session %s stopped, %d marked", sess.ID, marked)
	})
}

// Running reports whether Stop has not completed yet.
func (sess *Session) Running() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return !sess.stopped
}

// Seen returns the roll numbers already marked in this session, sorted.
func (sess *Session) Seen() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]string, 0, len(sess.seen))
	for roll := range sess.seen {
		out = append(out, roll)
	}
	sort.Strings(out)
	return out
}

// Marks returns the records written so far, oldest first.
func (sess *Session) Marks() []Mark {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Mark, len(sess.marks))
	copy(out, sess.marks)
	return out
}

func (sess *Session) run(ctx context.Context, interval time.Duration) {
	defer close(sess.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// the ticker drops ticks while this one runs
			start := time.Now()
			outcome := sess.tick(ctx)
			metrics.ScanTicks.WithLabelValues(outcome).Inc()
			metrics.TickDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func (sess *Session) hasSeen(roll string) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, ok := sess.seen[roll]
	return ok
}

// tick runs one detect+match+record cycle and returns its outcome label.
func (sess *Session) tick(ctx context.Context) string {
	s := sess.scanner

	frame, err := sess.frames.Frame(ctx)
	if errors.Is(err, ErrNoFrame) {
		return metrics.OutcomeNoDetection
	}
	if err != nil {
		log.Printf("scan session %s: read frame: %v", sess.ID, err)
		return metrics.OutcomeError
	}

	descriptor, err := s.detector.Detect(ctx, frame)
	if ctx.Err() != nil {
		return metrics.OutcomeDiscarded
	}
	if errors.Is(err, ErrNoDetection) {
		if s.opts.Debug {
			log.Printf("scan session %s: no face in frame", sess.ID)
		}
		return metrics.OutcomeNoDetection
	}
	if err != nil {
		log.Printf("scan session %s: detect: %v", sess.ID, err)
		return metrics.OutcomeError
	}

	match, ok, err := s.matcher.Recognize(ctx, descriptor)
	if err != nil {
		log.Printf("scan session %s: match: %v", sess.ID, err)
		return metrics.OutcomeError
	}
	if !ok {
		return metrics.OutcomeNoMatch
	}
	if sess.hasSeen(match.RollNumber) {
		return metrics.OutcomeDuplicate
	}

	student, err := s.store.Student(ctx, match.RollNumber)
	if err != nil {
		log.Printf("scan session %s: load student %s: %v", sess.ID, match.RollNumber, err)
		return metrics.OutcomeError
	}
	if student == nil {
		return metrics.OutcomeUnknown
	}
	// the subject may have been deleted while the session ran
	known, err := s.store.HasSubject(ctx, sess.Subject)
	if err != nil {
		log.Printf("scan session %s: load subject %q: %v", sess.ID, sess.Subject, err)
		return metrics.OutcomeError
	}
	if !known {
		return metrics.OutcomeNoSubject
	}

	if ctx.Err() != nil {
		return metrics.OutcomeDiscarded
	}
	rec, err := s.store.AddAttendance(ctx, match.RollNumber, sess.Subject)
	if err != nil {
		log.Printf("scan session %s: record %s: %v", sess.ID, match.RollNumber, err)
		return metrics.OutcomeError
	}

	sess.mu.Lock()
	sess.seen[match.RollNumber] = struct{}{}
	sess.marks = append(sess.marks, Mark{Record: rec, Match: match})
	sess.mu.Unlock()
	metrics.MatchDistance.Observe(match.Distance)
	log.Printf("scan session %s: %s (%s) present, confidence %.2f%%", sess.ID, student.Name, match.RollNumber, match.Confidence)

	sess.publish(ctx, rec, match)
	return metrics.OutcomeMarked
}

func (sess *Session) publish(ctx context.Context, rec store.AttendanceRecord, match Match) {
	pub := sess.scanner.pub
	if pub == nil {
		return
	}
	msg, err := queue.NewMarkedMessage(queue.MarkedEvent{
		RecordID:   rec.ID,
		SessionID:  sess.ID,
		RollNumber: rec.RollNumber,
		Subject:    rec.Subject,
		Date:       rec.Date,
		Distance:   match.Distance,
		Confidence: match.Confidence,
		At:         rec.Timestamp,
	})
	if err != nil {
		log.Printf("scan session %s: encode event: %v", sess.ID, err)
		return
	}
	// the record is already durable, so publish even if Stop races us
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := pub.Publish(pubCtx, msg); err != nil {
		log.Printf("scan session %s: publish event: %v", sess.ID, err)
	}
}
