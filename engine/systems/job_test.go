package systems

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
)

func TestNewJobSystemValidation(t *testing.T) {
	_, err := NewJobSystem(0, 1, nil)
	assert.ErrorIs(t, err, core.ErrNoWorkers)
	_, err = NewJobSystem(1, -1, nil)
	assert.ErrorIs(t, err, core.ErrNegativeChannelSize)
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(4, 8, nil)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		completed atomic.Int32
		failed    atomic.Int32
		finished  atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, js.Submit(metadata.JobTask{
			Name:        "square",
			InputParams: i,
			OnStart: func(in interface{}) (interface{}, error) {
				n := in.(int)
				if n%5 == 0 {
					return nil, errors.New("multiple of five")
				}
				if n == 7 {
					panic("seven")
				}
				return n * n, nil
			},
			OnComplete:           func(interface{}) { completed.Add(1) },
			OnFailure:            func(error) { failed.Add(1) },
			OnCompletionCallback: func() { finished.Add(1); wg.Done() },
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(15), completed.Load())
	assert.Equal(t, int32(5), failed.Load())
	assert.Equal(t, int32(20), finished.Load())

	require.NoError(t, js.Shutdown())
	require.NoError(t, js.Shutdown())
	assert.ErrorIs(t, js.Submit(metadata.JobTask{Name: "late"}), core.ErrSystemClosed)
}

func TestJobWithoutStartFails(t *testing.T) {
	js, err := NewJobSystem(1, 0, nil)
	require.NoError(t, err)
	defer js.Shutdown()

	errs := make(chan error, 1)
	require.NoError(t, js.Submit(metadata.JobTask{Name: "empty", OnFailure: func(err error) { errs <- err }}))
	assert.Error(t, <-errs)
}
