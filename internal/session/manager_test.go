package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/embedding"
	"github.com/hyperjump/pawsort/internal/models"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManagerRunsToCompletion(t *testing.T) {
	completed := make(chan *Outcome, 1)
	m := NewManager(NewEngine(embedding.NewMockEmbedder(16), fixture(8)),
		WithManagerLogger(zap.NewNop()),
		WithOnComplete(func(o *Outcome) { completed <- o }))
	defer m.Close()

	assert.Equal(t, models.PhaseIdle, m.Status().Phase)
	assert.Nil(t, m.Current())

	m.Start(testConfig())
	require.NoError(t, m.Wait(waitCtx(t)))

	st := m.Status()
	assert.Equal(t, models.PhaseDone, st.Phase)
	assert.Equal(t, 8, st.Photos)
	assert.Equal(t, 3, st.Classes)
	assert.Empty(t, st.Error)
	require.NotNil(t, m.Current())
	assert.Equal(t, st.SessionID, m.Current().ID)
	assert.Same(t, m.Current(), <-completed)
}

func TestManagerStartCancelsPrevious(t *testing.T) {
	release := make(chan struct{})
	emb := &hookEmbedder{inner: embedding.NewMockEmbedder(8)}
	emb.onIncoming = func(call int) error {
		if call == 1 {
			<-release
		}
		return nil
	}
	m := NewManager(NewEngine(emb, fixture(12)))
	defer m.Close()

	first := m.Start(testConfig())
	// let the first session reach its blocking embed call
	require.Eventually(t, func() bool {
		emb.mu.Lock()
		defer emb.mu.Unlock()
		return emb.incomingCalls == 1
	}, 5*time.Second, 5*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	second := m.Start(testConfig())
	assert.Greater(t, second, first)
	require.NoError(t, m.Wait(waitCtx(t)))

	st := m.Status()
	assert.Equal(t, models.PhaseDone, st.Phase, "only the latest session is reported")
	assert.Equal(t, 12, st.Photos)
}

func TestManagerFailureStatus(t *testing.T) {
	m := NewManager(NewEngine(embedding.NewMockEmbedder(8), &fakeScanner{}))
	m.Start(testConfig())
	require.NoError(t, m.Wait(waitCtx(t)))

	st := m.Status()
	assert.Equal(t, models.PhaseFailed, st.Phase)
	assert.Equal(t, models.KindValidation, st.ErrorKind)
	assert.NotEmpty(t, st.Error)
	assert.Nil(t, m.Current())
}

func TestManagerCancel(t *testing.T) {
	release := make(chan struct{})
	emb := &hookEmbedder{inner: embedding.NewMockEmbedder(8)}
	emb.onIncoming = func(call int) error {
		<-release
		return nil
	}
	m := NewManager(NewEngine(emb, fixture(12)))
	m.Start(testConfig())
	require.Eventually(t, func() bool {
		emb.mu.Lock()
		defer emb.mu.Unlock()
		return emb.incomingCalls == 1
	}, 5*time.Second, 5*time.Millisecond)

	m.Cancel()
	close(release)
	require.NoError(t, m.Wait(waitCtx(t)))
	st := m.Status()
	assert.Equal(t, models.PhaseCancelled, st.Phase)
	assert.Equal(t, models.KindCancelled, st.ErrorKind)
	assert.Nil(t, m.Current())
}

func TestManagerResetAndRestart(t *testing.T) {
	m := NewManager(NewEngine(embedding.NewMockEmbedder(8), fixture(4)))
	_, err := m.Restart()
	assert.ErrorIs(t, err, ErrNoSession)

	m.Start(testConfig())
	require.NoError(t, m.Wait(waitCtx(t)))
	require.NotNil(t, m.Current())

	m.Reset()
	assert.Nil(t, m.Current())
	assert.Equal(t, models.PhaseIdle, m.Status().Phase)

	_, err = m.Restart()
	require.NoError(t, err)
	require.NoError(t, m.Wait(waitCtx(t)))
	assert.Equal(t, models.PhaseDone, m.Status().Phase)
}
