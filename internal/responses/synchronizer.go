// Package responses keeps a client's view of hospital replies to one emergency in step
// with the server.
//
// Four paths feed the same list: an initial fetch, a couple of delayed re-fetches, the
// realtime feed, and a poller that only runs while the feed is not subscribed. All of them
// go through Merge or Insert, so redundant deliveries are harmless and simulated entries
// survive every refresh.
package responses

import (
	"context"
	"errors"
	"sync"
	"time"

	"sehat-saathi/internal/models"
	"sehat-saathi/internal/realtime"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNotObserving = errors.New("no emergency is being observed")

// Store is the query side of the response table.
type Store interface {
	FetchResponses(ctx context.Context, emergencyID string) ([]models.HospitalResponse, error)
}

type Options struct {
	// One-shot re-fetches after adopting an emergency.
	RetryDelays []time.Duration

	// Fallback poll period while the feed is not subscribed.
	PollInterval time.Duration

	// Upper bound on continuous degraded polling. Zero polls for as long as the feed is down.
	PollWindow time.Duration

	FetchTimeout time.Duration

	// OnUpdate receives every change in order. It must not call Observe, Close or AddSimulated.
	OnUpdate func(Snapshot)
}

func DefaultOptions() Options {
	return Options{
		RetryDelays:  []time.Duration{time.Second, 2 * time.Second},
		PollInterval: time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

type Snapshot struct {
	Version     uint64
	EmergencyID string
	Responses   []models.HospitalResponse
	Status      models.ConnectionStatus
}

// session holds everything started for one observed emergency.
type session struct {
	id     string
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc
	sub    realtime.Subscription
	wg     sync.WaitGroup
}

type Synchronizer struct {
	store  Store
	feed   realtime.Feed
	opts   Options
	logger *zap.Logger

	observeMu sync.Mutex

	mu          sync.Mutex
	emergencyID string
	generation  uint64
	version     uint64
	inserts     uint64
	responses   []models.HospitalResponse
	status      models.ConnectionStatus
	session     *session

	notifyMu  sync.Mutex
	delivered uint64
}

func New(store Store, feed realtime.Feed, opts Options, logger *zap.Logger) *Synchronizer {
	defaults := DefaultOptions()
	if opts.RetryDelays == nil {
		opts.RetryDelays = defaults.RetryDelays
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaults.FetchTimeout
	}
	return &Synchronizer{store: store, feed: feed, opts: opts, logger: logger}
}

// Observe switches to emergencyID. Everything started for the previous id is stopped
// before anything starts for the new one. An empty id leaves the synchronizer idle.
func (s *Synchronizer) Observe(emergencyID string) {
	s.observeMu.Lock()
	defer s.observeMu.Unlock()

	s.mu.Lock()
	if emergencyID == s.emergencyID {
		s.mu.Unlock()
		return
	}
	old, oldSub := s.detachLocked()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if old != nil {
		s.release(old, oldSub)
	}

	if emergencyID == "" {
		s.notify(snap)
		return
	}

	s.mu.Lock()
	sess := s.attachLocked(emergencyID)
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	s.logger.Info("Observing hospital responses",
		zap.String("emergency_id", emergencyID),
		zap.Durations("retry_delays", s.opts.RetryDelays),
		zap.Duration("poll_interval", s.opts.PollInterval),
	)
	s.start(sess)
}

// Close stops observing and releases the subscription.
func (s *Synchronizer) Close() {
	s.Observe("")
}

func (s *Synchronizer) Responses() []models.HospitalResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.HospitalResponse(nil), s.responses...)
}

func (s *Synchronizer) Status() models.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Synchronizer) EmergencyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emergencyID
}

func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AddSimulated shows a locally generated reply. Its id always carries models.SimulatedPrefix.
func (s *Synchronizer) AddSimulated(resp models.HospitalResponse) (models.HospitalResponse, error) {
	s.mu.Lock()
	if s.emergencyID == "" {
		s.mu.Unlock()
		return resp, ErrNotObserving
	}
	if !resp.IsSimulated() {
		resp.ID = models.SimulatedPrefix + uuid.NewString()
	}
	resp.EmergencyID = s.emergencyID
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = time.Now()
	}
	s.responses = Insert(s.responses, resp)
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return resp, nil
}

func (s *Synchronizer) detachLocked() (*session, realtime.Subscription) {
	old := s.session
	s.session = nil
	s.generation++
	s.version++
	s.emergencyID = ""
	s.responses = nil
	s.status = ""
	if old == nil {
		return nil, nil
	}
	old.cancel()
	return old, old.sub
}

func (s *Synchronizer) attachLocked(emergencyID string) *session {
	s.generation++
	s.version++
	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{id: emergencyID, gen: s.generation, ctx: ctx, cancel: cancel}
	s.session = sess
	s.emergencyID = emergencyID
	s.responses = []models.HospitalResponse{}
	s.status = models.StatusConnecting
	return sess
}

// release waits for the old session's goroutines and drops its subscription.
func (s *Synchronizer) release(old *session, sub realtime.Subscription) {
	old.wg.Wait()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to release subscription", zap.String("emergency_id", old.id), zap.Error(err))
		}
	}
	s.logger.Info("Stopped observing hospital responses", zap.String("emergency_id", old.id))
}

func (s *Synchronizer) start(sess *session) {
	sess.wg.Add(3 + len(s.opts.RetryDelays))

	go func() {
		defer sess.wg.Done()
		s.fetch(sess, "initial")
	}()

	for _, delay := range s.opts.RetryDelays {
		go func(delay time.Duration) {
			defer sess.wg.Done()
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-sess.ctx.Done():
				return
			case <-timer.C:
			}
			s.fetch(sess, "retry")
		}(delay)
	}

	go func() {
		defer sess.wg.Done()
		s.subscribe(sess)
	}()

	go func() {
		defer sess.wg.Done()
		s.pollLoop(sess)
	}()
}

// maxRefetch bounds the follow-up fetches issued when realtime inserts race a fetch.
const maxRefetch = 2

// fetch replaces the server rows with a fresh query result. A result that was read while a
// realtime insert arrived may predate that row, so it is followed by another fetch.
func (s *Synchronizer) fetch(sess *session, path string) {
	for attempt := 0; attempt <= maxRefetch; attempt++ {
		seq, ok := s.insertSeq(sess.gen)
		if !ok || !s.fetchOnce(sess, path) {
			return
		}
		if after, ok := s.insertSeq(sess.gen); !ok || after == seq {
			return
		}
		path = "refetch"
	}
}

func (s *Synchronizer) fetchOnce(sess *session, path string) bool {
	ctx, cancel := context.WithTimeout(sess.ctx, s.opts.FetchTimeout)
	defer cancel()

	rows, err := s.store.FetchResponses(ctx, sess.id)
	if err != nil {
		if sess.ctx.Err() == nil {
			s.logger.Warn("Failed to fetch hospital responses",
				zap.String("emergency_id", sess.id),
				zap.String("path", path),
				zap.Error(err),
			)
		}
		return false
	}
	s.apply(sess.gen, path, rows, Merge)
	return true
}

func (s *Synchronizer) subscribe(sess *session) {
	onInsert := func(row models.HospitalResponse) {
		s.mu.Lock()
		if sess.gen == s.generation {
			s.inserts++
		}
		s.mu.Unlock()
		s.apply(sess.gen, "realtime", []models.HospitalResponse{row}, func(cur, rows []models.HospitalResponse) []models.HospitalResponse {
			for _, r := range rows {
				cur = Insert(cur, r)
			}
			return cur
		})
	}
	onStatus := func(st models.ConnectionStatus) {
		s.setStatus(sess.gen, st)
	}

	sub, err := s.feed.Subscribe(sess.ctx, sess.id, onInsert, onStatus)
	if err != nil {
		if sess.ctx.Err() == nil {
			s.logger.Warn("Realtime subscription failed, relying on polling",
				zap.String("emergency_id", sess.id),
				zap.Error(err),
			)
			s.setStatus(sess.gen, models.StatusError)
		}
		return
	}

	s.mu.Lock()
	current := s.session == sess
	if current {
		sess.sub = sub
	}
	s.mu.Unlock()
	if !current {
		// Observe moved on while we were connecting.
		sub.Unsubscribe()
	}
}

func (s *Synchronizer) pollLoop(sess *session) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	degradedSince := time.Now()
	exhausted := false
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
		}

		st, ok := s.statusFor(sess.gen)
		if !ok {
			return
		}
		if !PollingActive(st) {
			degradedSince = time.Time{}
			exhausted = false
			continue
		}

		now := time.Now()
		if degradedSince.IsZero() {
			degradedSince = now
		}
		if s.opts.PollWindow > 0 && now.Sub(degradedSince) >= s.opts.PollWindow {
			if !exhausted {
				s.logger.Warn("Poll window exhausted, waiting for realtime feed",
					zap.String("emergency_id", sess.id),
					zap.String("status", string(st)),
					zap.Duration("poll_window", s.opts.PollWindow),
				)
				exhausted = true
			}
			continue
		}
		s.fetch(sess, "poll")
	}
}

type mergeFunc func(current, incoming []models.HospitalResponse) []models.HospitalResponse

// apply folds rows into the list if gen is still the observed generation. Rows for any
// other emergency are dropped first.
func (s *Synchronizer) apply(gen uint64, path string, rows []models.HospitalResponse, merge mergeFunc) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	kept := make([]models.HospitalResponse, 0, len(rows))
	for _, r := range rows {
		if r.EmergencyID != s.emergencyID {
			s.logger.Debug("Dropping response for another emergency",
				zap.String("emergency_id", s.emergencyID),
				zap.String("response_emergency_id", r.EmergencyID),
				zap.String("response_id", r.ID),
			)
			continue
		}
		kept = append(kept, r)
	}
	before := len(s.responses)
	s.responses = merge(s.responses, kept)
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if len(snap.Responses) != before {
		s.logger.Info("Hospital responses updated",
			zap.String("emergency_id", snap.EmergencyID),
			zap.String("path", path),
			zap.Int("count", len(snap.Responses)),
		)
	}
	s.notify(snap)
}

func (s *Synchronizer) setStatus(gen uint64, st models.ConnectionStatus) {
	s.mu.Lock()
	if gen != s.generation || s.status == st {
		s.mu.Unlock()
		return
	}
	prev := s.status
	s.status = st
	s.version++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("Realtime status changed",
		zap.String("emergency_id", snap.EmergencyID),
		zap.String("from", string(prev)),
		zap.String("to", string(st)),
		zap.Bool("polling", PollingActive(st)),
	)
	s.notify(snap)
}

func (s *Synchronizer) insertSeq(gen uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts, gen == s.generation
}

func (s *Synchronizer) statusFor(gen uint64) (models.ConnectionStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, gen == s.generation
}

func (s *Synchronizer) snapshotLocked() Snapshot {
	return Snapshot{
		Version:     s.version,
		EmergencyID: s.emergencyID,
		Responses:   append([]models.HospitalResponse(nil), s.responses...),
		Status:      s.status,
	}
}

// notify delivers snap unless a newer one already went out.
func (s *Synchronizer) notify(snap Snapshot) {
	if s.opts.OnUpdate == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap.Version <= s.delivered {
		return
	}
	s.delivered = snap.Version
	s.opts.OnUpdate(snap)
}
