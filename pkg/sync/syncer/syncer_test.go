package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpclient "github.com/AppleJax2/OncoTracker-sub000/pkg/http-client"
	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/connectivity"
	"github.com/AppleJax2/OncoTracker-sub000/pkg/sync/queue"
)

// fakeMonitor is a scriptable connectivity source.
type fakeMonitor struct {
	mu    sync.Mutex
	state connectivity.State
}

func newFakeMonitor(online bool) *fakeMonitor {
	quality := connectivity.QUALITY_GOOD
	if !online {
		quality = connectivity.QUALITY_OFFLINE
	}
	return &fakeMonitor{state: connectivity.State{Online: online, Quality: quality}}
}

func (m *fakeMonitor) State() connectivity.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *fakeMonitor) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Online = online
	if online {
		m.state.Quality = connectivity.QUALITY_GOOD
	} else {
		m.state.Quality = connectivity.QUALITY_OFFLINE
	}
}

type batchCall struct {
	accessToken string
	ids         []string
}

// fakeClient records every delivery attempt and answers from a script.
type fakeClient struct {
	mu         sync.Mutex
	batchCalls []batchCall
	singleErr  error
	batchErr   error
	// rejectByID marks ids to reject with the given reason
	rejectByID map[string]string
	// blockCh, when set, holds SubmitBatch until the channel is closed
	blockCh chan struct{}
}

func (c *fakeClient) SubmitSingle(ctx context.Context, submission studyTypes.Submission) (studyTypes.SingleIngestResponse, error) {
	c.mu.Lock()
	err := c.singleErr
	c.mu.Unlock()
	if err != nil {
		return studyTypes.SingleIngestResponse{}, err
	}
	return studyTypes.SingleIngestResponse{ClientSubmissionID: submission.ClientSubmissionID}, nil
}

func (c *fakeClient) SubmitBatch(ctx context.Context, accessToken string, submissions []studyTypes.Submission) (studyTypes.BatchIngestResponse, error) {
	c.mu.Lock()
	blockCh := c.blockCh
	c.mu.Unlock()
	if blockCh != nil {
		<-blockCh
	}

	ids := make([]string, len(submissions))
	for i, s := range submissions {
		ids[i] = s.ClientSubmissionID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls = append(c.batchCalls, batchCall{accessToken: accessToken, ids: ids})

	if c.batchErr != nil {
		return studyTypes.BatchIngestResponse{}, c.batchErr
	}

	resp := studyTypes.BatchIngestResponse{Accepted: []string{}, Rejected: []studyTypes.RejectedSubmission{}}
	for _, s := range submissions {
		if reason, ok := c.rejectByID[s.ClientSubmissionID]; ok {
			resp.Rejected = append(resp.Rejected, studyTypes.RejectedSubmission{
				ClientSubmissionID: s.ClientSubmissionID,
				Reason:             reason,
			})
			continue
		}
		resp.Accepted = append(resp.Accepted, s.ClientSubmissionID)
	}
	return resp, nil
}

func (c *fakeClient) calls() []batchCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]batchCall, len(c.batchCalls))
	copy(out, c.batchCalls)
	return out
}

// recordingStore wraps the real store and records removal order.
type recordingStore struct {
	*queue.Store
	mu      sync.Mutex
	removed []string
}

func (r *recordingStore) Remove(clientSubmissionID string) error {
	r.mu.Lock()
	r.removed = append(r.removed, clientSubmissionID)
	r.mu.Unlock()
	return r.Store.Remove(clientSubmissionID)
}

func openStore(t *testing.T) *queue.Store {
	t.Helper()
	store, err := queue.Open(queue.Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func submissionFor(token string, id string) studyTypes.Submission {
	return studyTypes.Submission{
		ClientSubmissionID: id,
		StudyAccessToken:   token,
		CapturedAt:         time.Now().Unix(),
		SubmittedBy:        studyTypes.SubmittedBy{Role: "owner"},
		SymptomReadings: []studyTypes.SymptomReading{
			{SymptomKey: "appetite", Rating: 2},
		},
	}
}

func TestOfflineCaptureNeverTouchesNetwork(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{}
	monitor := newFakeMonitor(false)
	s := NewSyncer(store, client, monitor, Config{})

	for i := 0; i < 100; i++ {
		_, queued, err := s.Capture(context.Background(), submissionFor("token-a", fmt.Sprintf("sub-%03d", i)))
		require.NoError(t, err)
		assert.True(t, queued)
	}

	assert.Empty(t, client.calls())

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 100, count)
}

func TestDrainRemovesInCaptureOrderOnSuccess(t *testing.T) {
	store := &recordingStore{Store: openStore(t)}
	client := &fakeClient{}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	for _, id := range []string{"sub-a", "sub-b", "sub-c"} {
		_, err := store.Enqueue(submissionFor("token-a", id))
		require.NoError(t, err)
	}

	result, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, 3, result.Accepted)

	assert.Equal(t, []string{"sub-a", "sub-b", "sub-c"}, store.removed)

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDrainPartialFailureIsolation(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{
		rejectByID: map[string]string{"sub-3": studyTypes.REJECTION_REASON_VALIDATION},
	}
	monitor := newFakeMonitor(true)

	var reported []studyTypes.RejectedSubmission
	s := NewSyncer(store, client, monitor, Config{
		OnPermanentFailure: func(rejected []studyTypes.RejectedSubmission) {
			reported = append(reported, rejected...)
		},
	})

	for i := 1; i <= 5; i++ {
		_, err := store.Enqueue(submissionFor("token-a", fmt.Sprintf("sub-%d", i)))
		require.NoError(t, err)
	}

	result, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Attempted)
	assert.Equal(t, 4, result.Accepted)
	assert.Equal(t, 1, result.PermanentFailures)

	// the rejected item is removed and reported, the rest are not re-queued
	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.Len(t, reported, 1)
	assert.Equal(t, "sub-3", reported[0].ClientSubmissionID)
}

func TestDrainWhileOffline(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{}
	monitor := newFakeMonitor(false)
	s := NewSyncer(store, client, monitor, Config{})

	_, err := s.Drain(context.Background())
	assert.ErrorIs(t, err, ErrOffline)
	assert.Empty(t, client.calls())
}

func TestDrainIsSingleFlight(t *testing.T) {
	store := openStore(t)
	blockCh := make(chan struct{})
	client := &fakeClient{blockCh: blockCh}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	_, err := store.Enqueue(submissionFor("token-a", "sub-1"))
	require.NoError(t, err)

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Drain(context.Background())
		firstDone <- err
	}()

	// wait until the first drain is inside the batch call
	require.Eventually(t, func() bool {
		return s.Status().DrainInFlight
	}, time.Second, 5*time.Millisecond)

	_, err = s.Drain(context.Background())
	assert.ErrorIs(t, err, ErrDrainInFlight)

	close(blockCh)
	require.NoError(t, <-firstDone)
}

func TestTransportFailureKeepsEntriesAndBacksOff(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{batchErr: fmt.Errorf("%w: connection refused", httpclient.ErrTransport)}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	for _, id := range []string{"sub-a", "sub-b"} {
		_, err := store.Enqueue(submissionFor("token-a", id))
		require.NoError(t, err)
	}

	result, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TransportFailures)
	assert.Equal(t, 0, result.Accepted)

	// entries stay queued, with attempt bookkeeping only
	pending, err := store.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, entry := range pending {
		assert.Equal(t, 1, entry.AttemptCount)
		assert.NotEmpty(t, entry.LastError)
	}

	// transport failure marks the link offline and arms the backoff
	assert.False(t, monitor.State().Online)
	assert.True(t, s.inBackoff())
}

func TestBackoffResetsAfterSuccessfulDrain(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{batchErr: fmt.Errorf("%w: connection refused", httpclient.ErrTransport)}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	_, err := store.Enqueue(submissionFor("token-a", "sub-1"))
	require.NoError(t, err)

	_, err = s.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, s.inBackoff())

	// link recovers, next drain succeeds
	client.mu.Lock()
	client.batchErr = nil
	client.mu.Unlock()
	monitor.SetOnline(true)

	result, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.False(t, s.inBackoff())
	assert.Equal(t, 0, s.Status().ConsecutiveFailures)
}

func TestBackoffStaysCappedOnLongFailureStreaks(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{
		InitialBackoff: 30 * time.Second,
		MaxBackoff:     15 * time.Minute,
	})

	// a streak long enough that naive doubling would wrap the duration
	s.mu.Lock()
	s.consecutiveFailures = 70
	s.mu.Unlock()

	s.finishDrain(&DrainResult{}, true)

	status := s.Status()
	require.NotZero(t, status.BackoffUntil)
	until := time.Unix(status.BackoffUntil, 0)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), until, 2*time.Second)
	assert.True(t, s.inBackoff())
}

func TestBatchesNeverMixAccessTokens(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	// interleaved captures for two different studies
	_, err := store.Enqueue(submissionFor("token-a", "a-1"))
	require.NoError(t, err)
	_, err = store.Enqueue(submissionFor("token-b", "b-1"))
	require.NoError(t, err)
	_, err = store.Enqueue(submissionFor("token-a", "a-2"))
	require.NoError(t, err)
	_, err = store.Enqueue(submissionFor("token-b", "b-2"))
	require.NoError(t, err)

	result, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Accepted)

	calls := client.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "token-a", calls[0].accessToken)
	assert.Equal(t, []string{"a-1", "a-2"}, calls[0].ids)
	assert.Equal(t, "token-b", calls[1].accessToken)
	assert.Equal(t, []string{"b-1", "b-2"}, calls[1].ids)
}

func TestBatchesAreBoundedBySize(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{MaxBatchSize: 3})

	for i := 0; i < 7; i++ {
		_, err := store.Enqueue(submissionFor("token-a", fmt.Sprintf("sub-%d", i)))
		require.NoError(t, err)
	}

	_, err := s.Drain(context.Background())
	require.NoError(t, err)

	calls := client.calls()
	require.Len(t, calls, 3)
	assert.Len(t, calls[0].ids, 3)
	assert.Len(t, calls[1].ids, 3)
	assert.Len(t, calls[2].ids, 1)
}

func TestAuthFailurePreservesEntries(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{batchErr: fmt.Errorf("%w: token revoked", httpclient.ErrInvalidToken)}
	monitor := newFakeMonitor(true)

	var failedToken string
	s := NewSyncer(store, client, monitor, Config{
		OnAuthFailure: func(accessToken string, err error) {
			failedToken = accessToken
		},
	})

	_, err := store.Enqueue(submissionFor("token-a", "sub-1"))
	require.NoError(t, err)

	result, err := s.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AuthFailures)

	// entries survive in case the user obtains a corrected token
	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "token-a", failedToken)

	// an authorization failure is not a link failure
	assert.True(t, monitor.State().Online)
	assert.False(t, s.inBackoff())
}

func TestCaptureDeliversImmediatelyWhenOnline(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	_, queued, err := s.Capture(context.Background(), submissionFor("token-a", ""))
	require.NoError(t, err)
	assert.False(t, queued)

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCaptureFallsBackToQueueOnTransportFailure(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{singleErr: fmt.Errorf("%w: connection refused", httpclient.ErrTransport)}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	entry, queued, err := s.Capture(context.Background(), submissionFor("token-a", ""))
	require.NoError(t, err)
	assert.True(t, queued)
	assert.NotEmpty(t, entry.Submission.ClientSubmissionID)

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, monitor.State().Online)
}

func TestCaptureDoesNotQueueValidationFailures(t *testing.T) {
	store := openStore(t)
	client := &fakeClient{singleErr: fmt.Errorf("%w: rating out of range", httpclient.ErrValidation)}
	monitor := newFakeMonitor(true)
	s := NewSyncer(store, client, monitor, Config{})

	_, _, err := s.Capture(context.Background(), submissionFor("token-a", ""))
	assert.ErrorIs(t, err, httpclient.ErrValidation)

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDrainStopsEarlyWhenConnectivityLost(t *testing.T) {
	store := openStore(t)
	monitor := newFakeMonitor(true)
	client := &fakeClient{batchErr: fmt.Errorf("%w: connection reset", httpclient.ErrTransport)}
	s := NewSyncer(store, client, monitor, Config{MaxBatchSize: 1})

	for i := 0; i < 5; i++ {
		_, err := store.Enqueue(submissionFor("token-a", fmt.Sprintf("sub-%d", i)))
		require.NoError(t, err)
	}

	result, err := s.Drain(context.Background())
	require.NoError(t, err)

	// the first transport failure flips the monitor offline, which stops
	// the remaining batches from being attempted
	assert.False(t, result.Completed)
	require.Len(t, client.calls(), 1)

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
