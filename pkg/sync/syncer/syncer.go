// Package syncer drives the reconciliation loop between the durable local
// queue and the ingestion API. It is the only component that calls the
// network on behalf of queued submissions.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	httpclient "github.com/AppleJax2/OncoTracker-sub000/pkg/http-client"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/connectivity"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/queue"
	"github.com/google/uuid"
)

const (
	DEFAULT_MAX_BATCH_SIZE  = 25
	DEFAULT_SYNC_INTERVAL   = 60 * time.Second
	DEFAULT_INITIAL_BACKOFF = 30 * time.Second
	DEFAULT_MAX_BACKOFF     = 15 * time.Minute
)

var (
	// ErrDrainInFlight - another drain is running; at most one per process.
	ErrDrainInFlight = errors.New("a drain is already in flight")
	// ErrOffline - no drain is attempted while the monitor reports offline.
	ErrOffline = errors.New("not online")
)

// IngestionClient is the delivery surface the orchestrator needs.
type IngestionClient interface {
	SubmitSingle(ctx context.Context, submission studyTypes.Submission) (studyTypes.SingleIngestResponse, error)
	SubmitBatch(ctx context.Context, accessToken string, submissions []studyTypes.Submission) (studyTypes.BatchIngestResponse, error)
}

// QueueStore is the durable queue surface the orchestrator needs.
type QueueStore interface {
	Enqueue(submission studyTypes.Submission) (queue.Entry, error)
	ListPending() ([]queue.Entry, error)
	Remove(clientSubmissionID string) error
	RecordAttempt(clientSubmissionID string, attemptErr error) error
	Len() (int, error)
}

// ConnectivityMonitor is the reachability surface the orchestrator consumes.
type ConnectivityMonitor interface {
	State() connectivity.State
	SetOnline(online bool)
}

type Config struct {
	MaxBatchSize   int
	SyncInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger

	// OnPermanentFailure surfaces item-level rejections to the user-visible
	// layer; rejected items are already removed from the queue when it fires.
	OnPermanentFailure func(rejected []studyTypes.RejectedSubmission)
	// OnAuthFailure surfaces batch-level token failures; the affected queue
	// entries are preserved in case the user obtains a corrected token.
	OnAuthFailure func(accessToken string, err error)
}

type DrainResult struct {
	Attempted         int   `json:"attempted"`
	Accepted          int   `json:"accepted"`
	PermanentFailures int   `json:"permanentFailures"`
	TransportFailures int   `json:"transportFailures"`
	AuthFailures      int   `json:"authFailures"`
	Completed         bool  `json:"completed"`
	FinishedAt        int64 `json:"finishedAt"`
}

type Syncer struct {
	store   QueueStore
	client  IngestionClient
	monitor ConnectivityMonitor

	maxBatchSize   int
	syncInterval   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger

	onPermanentFailure func(rejected []studyTypes.RejectedSubmission)
	onAuthFailure      func(accessToken string, err error)

	draining atomic.Bool

	mu                  sync.Mutex
	consecutiveFailures int
	backoffUntil        time.Time
	lastResult          *DrainResult

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewSyncer(store QueueStore, client IngestionClient, monitor ConnectivityMonitor, config Config) *Syncer {
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = DEFAULT_MAX_BATCH_SIZE
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = DEFAULT_SYNC_INTERVAL
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DEFAULT_INITIAL_BACKOFF
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DEFAULT_MAX_BACKOFF
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Syncer{
		store:              store,
		client:             client,
		monitor:            monitor,
		maxBatchSize:       config.MaxBatchSize,
		syncInterval:       config.SyncInterval,
		initialBackoff:     config.InitialBackoff,
		maxBackoff:         config.MaxBackoff,
		logger:             logger,
		onPermanentFailure: config.OnPermanentFailure,
		onAuthFailure:      config.OnAuthFailure,
		stopCh:             make(chan struct{}),
		doneCh:             make(chan struct{}),
	}
}

// Start launches the periodic drain trigger. Connectivity-transition
// triggering is wired by subscribing TriggerDrain on the monitor.
func (s *Syncer) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *Syncer) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.inBackoff() {
				continue
			}
			if _, err := s.Drain(context.Background()); err != nil &&
				!errors.Is(err, ErrOffline) && !errors.Is(err, ErrDrainInFlight) {
				s.logger.Error("periodic drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

// TriggerDrain starts a drain without blocking the caller. Used as the
// monitor's offline-to-online subscriber.
func (s *Syncer) TriggerDrain() {
	go func() {
		if _, err := s.Drain(context.Background()); err != nil &&
			!errors.Is(err, ErrOffline) && !errors.Is(err, ErrDrainInFlight) {
			s.logger.Error("reconnect drain failed", slog.String("error", err.Error()))
		}
	}()
}

// SyncNow runs a user-initiated drain. It bypasses backoff but still honours
// the offline gate and the single-flight rule. The context lets the user
// cancel; an abandoned in-flight call is not presumed failed - the next drain
// reconciles through idempotent replay.
func (s *Syncer) SyncNow(ctx context.Context) (DrainResult, error) {
	return s.Drain(ctx)
}

// Capture is the entry point for a freshly constructed observation. It
// assigns the client submission id, tries immediate delivery while online and
// falls back to the durable queue on transport failure. Offline capture
// never touches the network. Validation and authorization failures surface
// to the caller; a local persistence failure does too - capture either
// durably queues or fails loudly.
func (s *Syncer) Capture(ctx context.Context, submission studyTypes.Submission) (entry queue.Entry, queued bool, err error) {
	if submission.ClientSubmissionID == "" {
		submission.ClientSubmissionID = uuid.New().String()
	}

	if s.monitor.State().Online {
		result, err := s.client.SubmitSingle(ctx, submission)
		if err == nil {
			s.logger.Debug("submission delivered immediately",
				slog.String("clientSubmissionID", result.ClientSubmissionID),
				slog.Bool("alreadyAccepted", result.AlreadyAccepted))
			return queue.Entry{Submission: submission}, false, nil
		}

		if !errors.Is(err, httpclient.ErrTransport) {
			// validation or token failure - retrying the same payload
			// cannot help, so it must not be queued
			return queue.Entry{}, false, err
		}

		s.logger.Debug("immediate delivery failed, queueing submission", slog.String("error", err.Error()))
		s.monitor.SetOnline(false)
	}

	entry, err = s.store.Enqueue(submission)
	if err != nil {
		return queue.Entry{}, false, err
	}
	return entry, true, nil
}

// Drain attempts to deliver everything currently queued. At most one drain
// is in flight per process; a concurrent call returns ErrDrainInFlight.
func (s *Syncer) Drain(ctx context.Context) (DrainResult, error) {
	if !s.monitor.State().Online {
		return DrainResult{}, ErrOffline
	}

	if !s.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInFlight
	}
	defer s.draining.Store(false)

	pending, err := s.store.ListPending()
	if err != nil {
		return DrainResult{}, err
	}

	result := DrainResult{Completed: true}
	if len(pending) == 0 {
		s.finishDrain(&result, false)
		return result, nil
	}

	s.logger.Info("starting queue drain", slog.Int("pending", len(pending)))

	hadTransportFailure := false
	for _, batch := range s.partitionBatches(pending) {
		// a lost link mid-drain stops the loop; remaining batches stay
		// queued for the next trigger
		if !s.monitor.State().Online || ctx.Err() != nil {
			result.Completed = false
			break
		}

		result.Attempted += len(batch.entries)

		submissions := make([]studyTypes.Submission, len(batch.entries))
		for i, entry := range batch.entries {
			submissions[i] = entry.Submission
		}

		resp, err := s.client.SubmitBatch(ctx, batch.accessToken, submissions)
		if err != nil {
			s.recordBatchFailure(batch.entries, err)

			switch {
			case errors.Is(err, httpclient.ErrInvalidToken), errors.Is(err, httpclient.ErrStudyInactive):
				result.AuthFailures++
				s.logger.Warn("batch rejected at token level, entries preserved", slog.String("error", err.Error()))
				if s.onAuthFailure != nil {
					s.onAuthFailure(batch.accessToken, err)
				}
			default:
				result.TransportFailures++
				hadTransportFailure = true
				s.logger.Warn("batch delivery failed at transport level", slog.String("error", err.Error()))
				if ctx.Err() == nil {
					s.monitor.SetOnline(false)
				}
			}
			continue
		}

		s.reconcileBatch(resp, &result)
	}

	s.finishDrain(&result, hadTransportFailure)
	return result, nil
}

type tokenBatch struct {
	accessToken string
	entries     []queue.Entry
}

// partitionBatches groups pending entries by access token before chunking,
// so a batch never mixes studies, then bounds each chunk by the maximum
// batch size. Capture order is preserved within a token group.
func (s *Syncer) partitionBatches(pending []queue.Entry) []tokenBatch {
	grouped := map[string][]queue.Entry{}
	tokenOrder := []string{}
	for _, entry := range pending {
		token := entry.Submission.StudyAccessToken
		if _, seen := grouped[token]; !seen {
			tokenOrder = append(tokenOrder, token)
		}
		grouped[token] = append(grouped[token], entry)
	}

	batches := []tokenBatch{}
	for _, token := range tokenOrder {
		entries := grouped[token]
		for start := 0; start < len(entries); start += s.maxBatchSize {
			end := start + s.maxBatchSize
			if end > len(entries) {
				end = len(entries)
			}
			batches = append(batches, tokenBatch{
				accessToken: token,
				entries:     entries[start:end],
			})
		}
	}
	return batches
}

// reconcileBatch applies the server's per-item outcome report. Accepted
// items (including idempotent replays) leave the queue; validation
// rejections leave the queue too and are reported as permanent failures,
// never silently dropped. Internal per-item errors stay queued.
func (s *Syncer) reconcileBatch(resp studyTypes.BatchIngestResponse, result *DrainResult) {
	for _, id := range resp.Accepted {
		if err := s.store.Remove(id); err != nil {
			s.logger.Error("error removing confirmed entry from queue", slog.String("clientSubmissionID", id), slog.String("error", err.Error()))
			continue
		}
		result.Accepted++
	}

	permanent := []studyTypes.RejectedSubmission{}
	for _, rejected := range resp.Rejected {
		switch rejected.Reason {
		case studyTypes.REJECTION_REASON_VALIDATION, studyTypes.REJECTION_REASON_SCHEMA_VERSION:
			if err := s.store.Remove(rejected.ClientSubmissionID); err != nil {
				s.logger.Error("error removing rejected entry from queue", slog.String("clientSubmissionID", rejected.ClientSubmissionID), slog.String("error", err.Error()))
				continue
			}
			result.PermanentFailures++
			permanent = append(permanent, rejected)
			s.logger.Warn("submission permanently rejected",
				slog.String("clientSubmissionID", rejected.ClientSubmissionID),
				slog.String("reason", rejected.Reason),
				slog.String("detail", rejected.Detail))
		default:
			// server-side internal error for this item; keep it queued
			if err := s.store.RecordAttempt(rejected.ClientSubmissionID, errors.New(rejected.Detail)); err != nil {
				s.logger.Error("error recording attempt", slog.String("clientSubmissionID", rejected.ClientSubmissionID), slog.String("error", err.Error()))
			}
		}
	}

	if len(permanent) > 0 && s.onPermanentFailure != nil {
		s.onPermanentFailure(permanent)
	}
}

func (s *Syncer) recordBatchFailure(entries []queue.Entry, batchErr error) {
	for _, entry := range entries {
		if err := s.store.RecordAttempt(entry.Submission.ClientSubmissionID, batchErr); err != nil {
			s.logger.Error("error recording attempt", slog.String("clientSubmissionID", entry.Submission.ClientSubmissionID), slog.String("error", err.Error()))
		}
	}
}

func (s *Syncer) finishDrain(result *DrainResult, hadTransportFailure bool) {
	result.FinishedAt = time.Now().Unix()

	s.mu.Lock()
	defer s.mu.Unlock()

	if hadTransportFailure {
		s.consecutiveFailures++
		// double until the cap; stopping at the cap keeps long failure
		// streaks from overflowing the duration
		delay := s.initialBackoff
		for i := 1; i < s.consecutiveFailures && delay < s.maxBackoff; i++ {
			delay *= 2
		}
		if delay > s.maxBackoff {
			delay = s.maxBackoff
		}
		s.backoffUntil = time.Now().Add(delay)
		s.logger.Info("backing off after failed drain",
			slog.Int("consecutiveFailures", s.consecutiveFailures),
			slog.String("delay", delay.String()))
	} else {
		s.consecutiveFailures = 0
		s.backoffUntil = time.Time{}
	}

	s.lastResult = result
}

func (s *Syncer) inBackoff() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.backoffUntil)
}

type Status struct {
	Connectivity        connectivity.State `json:"connectivity"`
	QueueLength         int                `json:"queueLength"`
	QueueNearCapacity   bool               `json:"queueNearCapacity"`
	DrainInFlight       bool               `json:"drainInFlight"`
	ConsecutiveFailures int                `json:"consecutiveFailures"`
	BackoffUntil        int64              `json:"backoffUntil,omitempty"`
	LastDrain           *DrainResult       `json:"lastDrain,omitempty"`
}

func (s *Syncer) Status() Status {
	queueLength, err := s.store.Len()
	if err != nil {
		s.logger.Error("error reading queue length", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Connectivity:        s.monitor.State(),
		QueueLength:         queueLength,
		DrainInFlight:       s.draining.Load(),
		ConsecutiveFailures: s.consecutiveFailures,
		LastDrain:           s.lastResult,
	}
	if !s.backoffUntil.IsZero() {
		status.BackoffUntil = s.backoffUntil.Unix()
	}
	if nc, ok := s.store.(interface{ NearCapacity() (bool, error) }); ok {
		if near, err := nc.NearCapacity(); err == nil {
			status.QueueNearCapacity = near
		}
	}
	return status
}
