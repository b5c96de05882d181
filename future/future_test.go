package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromise_FirstCompletionWins(t *testing.T) {
	p := NewPromise[int]()
	assert.True(t, p.Complete(1))
	assert.False(t, p.Complete(2))
	assert.False(t, p.Fail(errors.New("late")))

	v, err := p.Future().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFuture_GetHonoursContext(t *testing.T) {
	p := NewPromise[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Future().Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The future itself is still pending and can complete later
	p.Complete("late")
	v, err := p.Future().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

func TestFuture_CallbackOrder(t *testing.T) {
	p := NewPromise[int]()
	var got []int
	p.Future().OnComplete(func(int, error) { got = append(got, 1) })
	p.Future().OnComplete(func(int, error) { got = append(got, 2) })
	p.Complete(0)
	p.Future().OnComplete(func(int, error) { got = append(got, 3) })

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestThenAndCompose(t *testing.T) {
	boom := errors.New("boom")

	doubled := Then(Completed(21), func(v int) (int, error) { return v * 2, nil })
	v, err := doubled.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	called := false
	skipped := Then(Failed[int](boom), func(v int) (int, error) {
		called = true
		return v, nil
	})
	_, err = skipped.Get(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)

	chained := Compose(Completed("a"), func(s string) *Future[string] {
		return Completed(s + "b")
	})
	s, err := chained.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ab", s)

	failedStep := Compose(Completed(1), func(int) *Future[int] { return Failed[int](boom) })
	assert.ErrorIs(t, failedStep.Wait(context.Background()), boom)

	assert.NoError(t, Discard(Completed(7)).Wait(context.Background()))
}

func TestFuture_ConcurrentWaiters(t *testing.T) {
	p := NewPromise[int]()
	var wg sync.WaitGroup
	results := make([]int, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := p.Future().Get(context.Background())
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	p.Complete(9)
	wg.Wait()
	for _, v := range results {
		assert.Equal(t, 9, v)
	}
}
