package common

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalTimerOneShot(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	callback := func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*100, callback, true))
	time.Sleep(time.Millisecond * 150)
	assert.EqualValues(1, atomic.LoadInt32(&value))

	time.Sleep(time.Millisecond * 100)
	assert.EqualValues(1, atomic.LoadInt32(&value))

	assert.Nil(uut.Start(time.Millisecond*50, callback, true))
	time.Sleep(time.Millisecond * 80)
	assert.EqualValues(2, atomic.LoadInt32(&value))
}

func TestIntervalTimerStopFromHandler(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	callback := func() error {
		if atomic.AddInt32(&value, 1) == 3 {
			return uut.Stop()
		}
		return nil
	}

	assert.Nil(uut.Start(time.Millisecond*20, callback, false))
	// Can't start a running timer
	assert.NotNil(uut.Start(time.Millisecond*20, callback, false))

	time.Sleep(time.Millisecond * 200)
	assert.EqualValues(3, atomic.LoadInt32(&value))
}

func TestIntervalTimerStopOnContextCancel(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	uut, err := GetIntervalTimerInstance("testing", ctxt, &wg)
	assert.Nil(err)

	var value int32
	assert.Nil(uut.Start(time.Millisecond*20, func() error {
		atomic.AddInt32(&value, 1)
		return nil
	}, false))
	time.Sleep(time.Millisecond * 70)
	cancel()
	wg.Wait()
	observed := atomic.LoadInt32(&value)
	assert.Greater(observed, int32(0))
	time.Sleep(time.Millisecond * 50)
	assert.Equal(observed, atomic.LoadInt32(&value))
}
