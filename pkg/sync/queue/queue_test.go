package queue

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	studyTypes "github.com/AppleJax2/OncoTracker-sub000/pkg/study/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func submissionWithID(id string) studyTypes.Submission {
	return studyTypes.Submission{
		ClientSubmissionID: id,
		StudyAccessToken:   "token-a",
		CapturedAt:         1724917800,
		SubmittedBy:        studyTypes.SubmittedBy{Role: "owner"},
		SymptomReadings: []studyTypes.SymptomReading{
			{SymptomKey: "appetite", Rating: 2},
		},
	}
}

func TestEnqueueAssignsClientSubmissionID(t *testing.T) {
	store := openTestStore(t)

	entry, err := store.Enqueue(submissionWithID(""))
	require.NoError(t, err)
	assert.NotEmpty(t, entry.Submission.ClientSubmissionID)

	// the assigned id must be stable in the persisted entry
	pending, err := store.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entry.Submission.ClientSubmissionID, pending[0].Submission.ClientSubmissionID)
}

func TestListPendingPreservesCaptureOrder(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 25; i++ {
		_, err := store.Enqueue(submissionWithID(fmt.Sprintf("sub-%03d", i)))
		require.NoError(t, err)
	}

	pending, err := store.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 25)

	for i, entry := range pending {
		assert.Equal(t, fmt.Sprintf("sub-%03d", i), entry.Submission.ClientSubmissionID)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Enqueue(submissionWithID("sub-1"))
	require.NoError(t, err)

	require.NoError(t, store.Remove("sub-1"))
	require.NoError(t, store.Remove("sub-1"))
	require.NoError(t, store.Remove("never-enqueued"))

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestEnqueueSameIDTwiceKeepsOneEntry(t *testing.T) {
	store := openTestStore(t)

	first, err := store.Enqueue(submissionWithID("sub-1"))
	require.NoError(t, err)

	second, err := store.Enqueue(submissionWithID("sub-1"))
	require.NoError(t, err)
	assert.Equal(t, first.Seq, second.Seq)

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordAttempt(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Enqueue(submissionWithID("sub-1"))
	require.NoError(t, err)

	require.NoError(t, store.RecordAttempt("sub-1", errors.New("connection refused")))
	require.NoError(t, store.RecordAttempt("sub-1", errors.New("connection refused")))

	pending, err := store.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].AttemptCount)
	assert.Equal(t, "connection refused", pending[0].LastError)
	assert.NotZero(t, pending[0].LastAttemptAt)

	// bookkeeping for an absent id is a no-op, not an error
	require.NoError(t, store.RecordAttempt("never-enqueued", errors.New("x")))
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)

	for _, id := range []string{"sub-a", "sub-b", "sub-c"} {
		_, err := store.Enqueue(submissionWithID(id))
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	defer reopened.Close()

	pending, err := reopened.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "sub-a", pending[0].Submission.ClientSubmissionID)
	assert.Equal(t, "sub-b", pending[1].Submission.ClientSubmissionID)
	assert.Equal(t, "sub-c", pending[2].Submission.ClientSubmissionID)

	// ordering still holds for entries enqueued after the restart
	_, err = reopened.Enqueue(submissionWithID("sub-d"))
	require.NoError(t, err)

	pending, err = reopened.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, "sub-d", pending[3].Submission.ClientSubmissionID)
}

func TestNearCapacity(t *testing.T) {
	store, err := Open(Config{InMemory: true, MaxEntries: 3})
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 2; i++ {
		_, err := store.Enqueue(submissionWithID(fmt.Sprintf("sub-%d", i)))
		require.NoError(t, err)
	}

	near, err := store.NearCapacity()
	require.NoError(t, err)
	assert.False(t, near)

	// the cap is soft: enqueue keeps working, the state is just reported
	_, err = store.Enqueue(submissionWithID("sub-2"))
	require.NoError(t, err)

	near, err = store.NearCapacity()
	require.NoError(t, err)
	assert.True(t, near)

	_, err = store.Enqueue(submissionWithID("sub-3"))
	require.NoError(t, err)

	count, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
