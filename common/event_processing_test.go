package common

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestTaskParamProcessing(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()
	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 4)
	assert.Nil(err)
	defer func() {
		assert.Nil(uut.StopEventLoop())
	}()

	// Case 1: no executor map
	{
		assert.NotNil(uut.ProcessNewTaskParam("hello"))
	}

	type testStruct1 struct{}
	type testStruct2 struct{}
	type testStruct3 struct{}

	executorMap := map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error {
			return nil
		},
	}

	// Case 2: define a executor map
	{
		assert.Nil(uut.SetTaskExecutionMap(executorMap))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct3{}))
	}

	executorMap = map[reflect.Type]TaskHandler{
		reflect.TypeOf(testStruct1{}): func(p interface{}) error { return nil },
		reflect.TypeOf(testStruct3{}): func(p interface{}) error { return fmt.Errorf("Dummy error") },
	}

	// Case 3: change executor map
	{
		assert.Nil(uut.SetTaskExecutionMap(executorMap))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.NotNil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}

	// Case 4: append to existing map
	{
		assert.Nil(uut.AddToTaskExecutionMap(
			reflect.TypeOf(&testStruct2{}), func(p interface{}) error { return nil },
		))
		assert.Nil(uut.ProcessNewTaskParam(testStruct1{}))
		assert.Nil(uut.ProcessNewTaskParam(&testStruct2{}))
		assert.NotNil(uut.ProcessNewTaskParam(testStruct3{}))
	}
}

func TestTaskProcessorEventLoop(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 4)
	assert.Nil(err)

	type appendTask struct{ value int }

	// Only touched by the event loop
	received := []int{}
	done := make(chan bool, 1)
	assert.Nil(uut.AddToTaskExecutionMap(
		reflect.TypeOf(appendTask{}), func(p interface{}) error {
			received = append(received, p.(appendTask).value)
			if len(received) == 10 {
				done <- true
			}
			return nil
		},
	))
	assert.Nil(uut.StartEventLoop(&wg))

	for itr := 0; itr < 10; itr++ {
		assert.Nil(uut.Submit(ctxt, appendTask{value: itr}))
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		assert.Fail("event loop did not process all tasks")
	}
	assert.EqualValues([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, received)

	// Submit after stop fails instead of blocking
	assert.Nil(uut.StopEventLoop())
	wg.Wait()
	for itr := 0; itr < 10; itr++ {
		if err := uut.Submit(ctxt, appendTask{value: itr}); err != nil {
			return
		}
	}
	assert.Fail("submit never failed on a stopped event loop")
}

func TestTaskProcessorSubmitTimeout(t *testing.T) {
	assert := assert.New(t)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Loop never started, the buffer fills up
	uut, err := GetNewTaskProcessorInstance(ctxt, "testing", 1)
	assert.Nil(err)
	assert.Nil(uut.Submit(ctxt, "first"))

	lclCtxt, lclCancel := context.WithTimeout(ctxt, time.Millisecond*50)
	defer lclCancel()
	assert.NotNil(uut.Submit(lclCtxt, "second"))
}
