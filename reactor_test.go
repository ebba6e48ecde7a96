package asyncio

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T) *reactor {
	t.Helper()
	re, err := newReactor(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = re.close() })
	return re
}

func newTestPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReactorArmReadableWakesOnData(t *testing.T) {
	re := newTestReactor(t)
	rfd, wfd := newTestPipe(t)
	require.NoError(t, re.register(rfd))

	ex := &Executor{runnable: newRunQueue(), reactor: re, logger: zap.NewNop()}
	tk := &task{ex: ex}
	re.armReadable(rfd, &Waker{t: tk})
	require.False(t, re.idle())

	_, err := unix.Write(wfd, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, re.wait())
	require.Equal(t, 1, ex.runnable.l.Len())
	require.True(t, re.idle())
}

func TestReactorArmOverwritesWithoutInvokingPrior(t *testing.T) {
	re := newTestReactor(t)
	rfd, wfd := newTestPipe(t)
	require.NoError(t, re.register(rfd))

	ex := &Executor{runnable: newRunQueue(), reactor: re, logger: zap.NewNop()}
	first := &task{ex: ex}
	second := &task{ex: ex}

	re.armReadable(rfd, &Waker{t: first})
	re.armReadable(rfd, &Waker{t: second})
	require.Same(t, second, re.wakers[readToken(rfd)].t)

	_, err := unix.Write(wfd, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, re.wait())

	require.Equal(t, 1, ex.runnable.l.Len())
	require.Same(t, second, ex.runnable.pop())
}

func TestReactorDeregisterDropsBothTokens(t *testing.T) {
	re := newTestReactor(t)
	rfd, _ := newTestPipe(t)
	require.NoError(t, re.register(rfd))

	ex := &Executor{runnable: newRunQueue(), reactor: re, logger: zap.NewNop()}
	tk := &task{ex: ex}
	re.armReadable(rfd, &Waker{t: tk})
	re.armWritable(rfd, &Waker{t: tk})
	require.False(t, re.idle())

	re.deregister(rfd)

	require.True(t, re.idle())
	_, readOK := re.wakers[readToken(rfd)]
	_, writeOK := re.wakers[writeToken(rfd)]
	require.False(t, readOK)
	require.False(t, writeOK)
	_, interestOK := re.interest[rfd]
	require.False(t, interestOK)
}

func TestReactorIdleReportsNoArmedInterest(t *testing.T) {
	re := newTestReactor(t)
	require.True(t, re.idle())

	rfd, _ := newTestPipe(t)
	require.NoError(t, re.register(rfd))
	require.True(t, re.idle())

	ex := &Executor{runnable: newRunQueue(), reactor: re, logger: zap.NewNop()}
	re.armReadable(rfd, &Waker{t: &task{ex: ex}})
	require.False(t, re.idle())
}
