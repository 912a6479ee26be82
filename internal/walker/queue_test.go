package walker_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deidaraiorek/deifind/internal/walker"
)

// tree is a simulated directory structure: dir -> child dirs.
var tree = map[string][]string{
	"/":         {"/a", "/b", "/c"},
	"/a":        {"/a/x", "/a/y"},
	"/a/x":      {"/a/x/deep"},
	"/b":        nil,
	"/c":        {"/c/z"},
	"/a/y":      nil,
	"/a/x/deep": nil,
	"/c/z":      nil,
}

func TestQueueSingleWorkerTerminatesAfterEmptyRoot(t *testing.T) {
	q := walker.NewQueue(1, "/empty")

	dir, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "/empty", dir)

	_, ok = q.Pop()
	require.False(t, ok)

	st := q.Status()
	require.True(t, st.Done)
	require.Equal(t, 1, st.Pops)
	require.Equal(t, 0, st.Pending)
}

func TestQueueDeterministicDrive(t *testing.T) {
	q := walker.NewQueue(1, "/")

	var visited []string
	for {
		dir, ok := q.TryPop()
		if !ok {
			break
		}
		visited = append(visited, dir)
		q.Push(tree[dir]...)

		st := q.Status()
		require.False(t, st.Done)
	}

	require.Len(t, visited, len(tree))
	require.Equal(t, walker.Status{Pending: 0, Idle: 0, Workers: 1, Pops: len(tree), Pushes: len(tree)}, q.Status())

	_, ok := q.Pop()
	require.False(t, ok, "single idle worker with an empty queue terminates")
	require.True(t, q.Status().Done)
}

func TestQueuePushAfterDoneIsIgnored(t *testing.T) {
	q := walker.NewQueue(1)
	_, ok := q.Pop()
	require.False(t, ok)

	q.Push("/late")
	require.Equal(t, 0, q.Status().Pending)
}

func TestQueueConcurrentWorkersVisitEveryDirOnce(t *testing.T) {
	for _, workers := range []int{1, 2, 4, 8} {
		q := walker.NewQueue(workers, "/")

		var mu sync.Mutex
		var visited []string
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					dir, ok := q.Pop()
					if !ok {
						return
					}
					mu.Lock()
					visited = append(visited, dir)
					mu.Unlock()
					q.Push(tree[dir]...)
				}
			}()
		}
		wg.Wait()

		var want []string
		for dir := range tree {
			want = append(want, dir)
		}
		sort.Strings(want)
		sort.Strings(visited)
		require.Equal(t, want, visited, "workers=%d", workers)

		st := q.Status()
		require.True(t, st.Done)
		require.Equal(t, workers, st.Idle, "every worker ends idle")
	}
}

func TestQueueCloseWakesSleepers(t *testing.T) {
	q := walker.NewQueue(3)

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, ok := q.Pop()
			results <- ok
		}()
	}

	q.Close()
	require.False(t, <-results)
	require.False(t, <-results)
	require.True(t, q.Status().Done)
}
