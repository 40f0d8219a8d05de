package emitter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/siivous/internal/report"
)

// mockEmitter implements Emitter for testing.
type mockEmitter struct {
	emitCalls  int
	closeCalls int
	emitErr    error
	closeErr   error
	reports    []*report.Report
}

func (m *mockEmitter) Emit(_ context.Context, r *report.Report) error {
	m.emitCalls++
	m.reports = append(m.reports, r)
	return m.emitErr
}

func (m *mockEmitter) Close() error {
	m.closeCalls++
	return m.closeErr
}

// ═══════════════════════════════════════════════════════════════════════════
// MultiEmitter
// ═══════════════════════════════════════════════════════════════════════════

func TestMultiEmitter_EmitReachesEveryBackend(t *testing.T) {
	first, second := &mockEmitter{}, &mockEmitter{}
	multi := NewMultiEmitter(first, nil, second)

	rep := &report.Report{RunID: "run-1", Outcomes: outcomes(outcome("i-1", "TAGGED"))}
	require.NoError(t, multi.Emit(context.Background(), rep))

	for _, m := range []*mockEmitter{first, second} {
		require.Len(t, m.reports, 1)
		assert.Same(t, rep, m.reports[0])
	}
}

func TestMultiEmitter_FailureDoesNotStarveLaterBackends(t *testing.T) {
	boom := errors.New("push gateway down")
	broken := &mockEmitter{emitErr: boom}
	healthy := &mockEmitter{}

	err := NewMultiEmitter(broken, healthy).Emit(context.Background(), &report.Report{RunID: "run-2"})

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "emitter 0")
	assert.Equal(t, 1, healthy.emitCalls)
}

func TestMultiEmitter_NilReportIsIgnored(t *testing.T) {
	m := &mockEmitter{}
	require.NoError(t, NewMultiEmitter(m).Emit(context.Background(), nil))
	assert.Zero(t, m.emitCalls)
}

func TestMultiEmitter_CloseJoinsFailures(t *testing.T) {
	errA, errB := errors.New("a"), errors.New("b")
	a := &mockEmitter{closeErr: errA}
	ok := &mockEmitter{}
	b := &mockEmitter{closeErr: errB}

	err := NewMultiEmitter(a, ok, b).Close()

	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	for _, m := range []*mockEmitter{a, ok, b} {
		assert.Equal(t, 1, m.closeCalls)
	}
}

func TestMultiEmitter_NoBackends(t *testing.T) {
	multi := NewMultiEmitter()

	assert.NoError(t, multi.Emit(context.Background(), &report.Report{}))
	assert.NoError(t, multi.Close())
}
