package broker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingSubscription struct {
	closed int32
}

func (s *countingSubscription) Close() {
	atomic.AddInt32(&s.closed, 1)
}

func TestConsumerGroupTable(t *testing.T) {
	assert := assert.New(t)

	uut := NewConsumerGroupTable()

	// Case 0: factory failure leaves no entry
	{
		created, err := uut.Register("group-a", func() (Subscription, error) {
			return nil, fmt.Errorf("dummy error")
		})
		assert.NotNil(err)
		assert.False(created)
		assert.NotContains(uut.Groups(), "group-a")
	}

	// Case 1: register twice, one subscription
	sub := &countingSubscription{}
	calls := 0
	factory := func() (Subscription, error) {
		calls++
		return sub, nil
	}
	{
		created, err := uut.Register("group-a", factory)
		assert.Nil(err)
		assert.True(created)
		created, err = uut.Register("group-a", factory)
		assert.Nil(err)
		assert.False(created)
		assert.Equal(1, calls)
		assert.EqualValues([]string{"group-a"}, uut.Groups())
	}

	// Case 2: close all
	{
		uut.CloseAll()
		assert.EqualValues(1, atomic.LoadInt32(&sub.closed))
		assert.NotContains(uut.Groups(), "group-a")
		uut.CloseAll()
		assert.EqualValues(1, atomic.LoadInt32(&sub.closed))
	}
}

func TestConsumerGroupTableConcurrentRegister(t *testing.T) {
	assert := assert.New(t)

	uut := NewConsumerGroupTable()
	var calls int32
	factory := func() (Subscription, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(time.Millisecond * 10)
		return &countingSubscription{}, nil
	}

	wg := sync.WaitGroup{}
	for itr := 0; itr < 8; itr++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uut.Register("shared", factory)
			assert.Nil(err)
		}()
	}
	wg.Wait()
	assert.EqualValues(1, atomic.LoadInt32(&calls))
}
