package taskstore

import (
	"testing"
	"time"

	"github.com/glootie/exec-service/runner"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return New(Config{
		MaxTaskOutput: 1024,
		MaxTaskAge:    time.Hour,
		MaxTasks:      1000,
		SweepInterval: time.Hour,
	})
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore()
	defer s.Shutdown()

	id := s.CreateTask("console.log(1)", "nodejs", "/tmp/x")
	task, ok := s.GetTask(id)
	require.True(t, ok)
	require.Equal(t, Pending, task.Status)
	require.Nil(t, task.StartedAt)
	require.Nil(t, task.CompletedAt)
}

func TestStartThenCompleteTask(t *testing.T) {
	s := newTestStore()
	defer s.Shutdown()

	id := s.CreateTask("echo hi", "bash", "/tmp/x")
	s.StartTask(id)
	task, _ := s.GetTask(id)
	require.Equal(t, Running, task.Status)
	require.NotNil(t, task.StartedAt)

	s.CompleteTask(id, runner.Result{Success: true, ExitCode: 0, Stdout: "hi\n"})
	task, _ = s.GetTask(id)
	require.Equal(t, Completed, task.Status)
	require.NotNil(t, task.CompletedAt)
	require.NotNil(t, task.Result)
	require.True(t, task.Result.Success)

	// Terminal transitions are final: a second Complete/Fail is ignored.
	s.FailTask(id, "should not apply")
	task, _ = s.GetTask(id)
	require.Equal(t, Completed, task.Status)
}

func TestFailTaskSynthesizesResult(t *testing.T) {
	s := newTestStore()
	defer s.Shutdown()

	id := s.CreateTask("x", "python", "/tmp/x")
	s.FailTask(id, "Worker timeout — killed by health check")
	task, _ := s.GetTask(id)
	require.Equal(t, Failed, task.Status)
	require.False(t, task.Result.Success)
	require.Equal(t, 1, task.Result.ExitCode)
	require.Contains(t, task.Result.Error, "killed by health check")
}

func TestAppendAndReadAndClearOutput(t *testing.T) {
	s := newTestStore()
	defer s.Shutdown()

	id := s.CreateTask("x", "bash", "/tmp/x")
	s.StartTask(id)
	s.AppendOutput(id, runner.Stdout, "hello ")
	s.AppendOutput(id, runner.Stderr, "warn")

	chunks, err := s.ReadAndClearOutput(id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "stdout", chunks[0].S)
	require.Equal(t, "hello ", chunks[0].D)
	require.Equal(t, "stderr", chunks[1].S)

	chunks, err = s.ReadAndClearOutput(id)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestAppendOutputIgnoredAfterTerminal(t *testing.T) {
	s := newTestStore()
	defer s.Shutdown()

	id := s.CreateTask("x", "bash", "/tmp/x")
	s.CompleteTask(id, runner.Result{Success: true})
	s.AppendOutput(id, runner.Stdout, "too late")

	chunks, err := s.ReadAndClearOutput(id)
	require.NoError(t, err)
	require.Empty(t, chunks)
}

func TestAppendOutputTrimsToHalfCapOnOverflow(t *testing.T) {
	s := New(Config{MaxTaskOutput: 10, MaxTaskAge: time.Hour, MaxTasks: 1000, SweepInterval: time.Hour})
	defer s.Shutdown()

	id := s.CreateTask("x", "bash", "/tmp/x")
	s.AppendOutput(id, runner.Stdout, "1234") // 4
	s.AppendOutput(id, runner.Stdout, "5678") // 8
	s.AppendOutput(id, runner.Stdout, "90")   // 10, at cap, no overflow
	s.AppendOutput(id, runner.Stdout, "AB")   // 12 > 10, trim to <= 5

	chunks, _ := s.ReadAndClearOutput(id)
	var total int
	for _, c := range chunks {
		total += len(c.D)
	}
	require.LessOrEqual(t, total, 5)
}

func TestReadAndClearOutputUnknownTask(t *testing.T) {
	s := newTestStore()
	defer s.Shutdown()

	_, err := s.ReadAndClearOutput(9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteTask(t *testing.T) {
	s := newTestStore()
	defer s.Shutdown()

	id := s.CreateTask("x", "bash", "/tmp/x")
	s.DeleteTask(id)
	_, ok := s.GetTask(id)
	require.False(t, ok)
}

func TestShutdownFailsNonTerminalTasks(t *testing.T) {
	s := newTestStore()

	pendingID := s.CreateTask("x", "bash", "/tmp/x")
	runningID := s.CreateTask("y", "bash", "/tmp/y")
	s.StartTask(runningID)
	doneID := s.CreateTask("z", "bash", "/tmp/z")
	s.CompleteTask(doneID, runner.Result{Success: true})

	s.Shutdown()

	pending, _ := s.GetTask(pendingID)
	require.Equal(t, Failed, pending.Status)
	require.Contains(t, pending.Result.Error, "shutting down")

	running, _ := s.GetTask(runningID)
	require.Equal(t, Failed, running.Status)

	done, _ := s.GetTask(doneID)
	require.Equal(t, Completed, done.Status)
}

func TestSweepEvictsOldTerminalTasks(t *testing.T) {
	s := New(Config{MaxTaskOutput: 1024, MaxTaskAge: time.Hour, MaxTasks: 1000, SweepInterval: 10 * time.Millisecond})
	defer s.Shutdown()

	id := s.CreateTask("x", "bash", "/tmp/x")
	s.CompleteTask(id, runner.Result{Success: true})

	// Force the completedAt far enough in the past that the next sweep evicts it.
	s.mu.Lock()
	past := time.Now().Add(-2 * time.Hour).UnixMilli()
	s.tasks[id].completedAt = &past
	s.mu.Unlock()

	require.Eventually(t, func() bool {
		_, ok := s.GetTask(id)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestSweepEvictsOldestWhenOverMaxTasks(t *testing.T) {
	s := New(Config{MaxTaskOutput: 1024, MaxTaskAge: time.Hour, MaxTasks: 1, SweepInterval: 10 * time.Millisecond})
	defer s.Shutdown()

	oldID := s.CreateTask("old", "bash", "/tmp/x")
	s.CompleteTask(oldID, runner.Result{Success: true})
	newID := s.CreateTask("new", "bash", "/tmp/y")
	s.CompleteTask(newID, runner.Result{Success: true})

	require.Eventually(t, func() bool {
		_, oldOK := s.GetTask(oldID)
		_, newOK := s.GetTask(newID)
		return !oldOK && newOK
	}, time.Second, 10*time.Millisecond)
}
