package scheduler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrdered(t *testing.T) {
	s := New("test", 4)

	t.Run("should choose lanes deterministically", func(t *testing.T) {
		require.Equal(t, 4, s.Lanes())
		require.Equal(t, s.ChooseLane(42), s.ChooseLane(42))
		require.Equal(t, 2, s.ChooseLane(42))
		require.Equal(t, 1, s.ChooseLane(-1))
	})
	t.Run("should run tasks of one key in submission order", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make(map[int64][]int)
		var mtx sync.Mutex
		for key := int64(0); key < 8; key++ {
			for i := 0; i < 200; i++ {
				key, i := key, i
				wg.Add(1)
				require.NoError(t, s.Execute(key, func() {
					defer wg.Done()
					mtx.Lock()
					results[key] = append(results[key], i)
					mtx.Unlock()
				}))
			}
		}
		wg.Wait()
		for key := int64(0); key < 8; key++ {
			require.Equal(t, 200, len(results[key]))
			for idx, v := range results[key] {
				require.Equal(t, idx, v)
			}
		}
	})
	t.Run("should drain queued tasks on close", func(t *testing.T) {
		ran := 0
		for i := 0; i < 10; i++ {
			require.NoError(t, s.Execute(3, func() { ran++ }))
		}
		require.NoError(t, s.Close())
		require.Equal(t, 10, ran)
		require.Equal(t, ErrSchedulerClosed, s.Execute(3, func() {}))
	})
	t.Run("should start at least one lane", func(t *testing.T) {
		s := New("single", 0)
		defer s.Close()
		require.Equal(t, 1, s.Lanes())
		require.Equal(t, 0, s.ChooseLane(1234))
	})
}
