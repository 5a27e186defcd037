package bridge

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/alwitt/wsbridge/common"
	"github.com/apex/log"
)

// hub owns the ConnectionRegistry; every registry access is a task run by its event loop
type hub struct {
	goutils.Component
	registry *ConnectionRegistry
	tp       common.TaskProcessor
}

type registerTask struct {
	sess *session
}

type deregisterTask struct {
	id string
}

// broadcastTask frame for every open session except the sender
type broadcastTask struct {
	from  string
	frame []byte
}

// fanoutTask frame for every open session
type fanoutTask struct {
	frame []byte
}

type countTask struct {
	reply chan int
}

func newHub(ctxt context.Context, name string, eventBuffer int) (*hub, error) {
	logTags := log.Fields{
		"module":    "bridge",
		"component": "hub",
		"instance":  name,
	}
	tp, err := common.GetNewTaskProcessorInstance(ctxt, name, eventBuffer)
	if err != nil {
		return nil, err
	}
	h := &hub{
		Component: goutils.Component{LogTags: logTags},
		registry:  NewConnectionRegistry(),
		tp:        tp,
	}
	if err := tp.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(registerTask{}):   h.processRegister,
		reflect.TypeOf(deregisterTask{}): h.processDeregister,
		reflect.TypeOf(broadcastTask{}):  h.processBroadcast,
		reflect.TypeOf(fanoutTask{}):     h.processFanout,
		reflect.TypeOf(countTask{}):      h.processCount,
	}); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *hub) start(wg *sync.WaitGroup) error {
	return h.tp.StartEventLoop(wg)
}

func (h *hub) stop() error {
	return h.tp.StopEventLoop()
}

func (h *hub) processRegister(param interface{}) error {
	task, ok := param.(registerTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for register", reflect.TypeOf(param))
	}
	h.registry.Add(task.sess)
	log.WithFields(h.LogTags).Debugf("Registered session %s, %d open", task.sess.id, h.registry.Len())
	return nil
}

func (h *hub) processDeregister(param interface{}) error {
	task, ok := param.(deregisterTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for deregister", reflect.TypeOf(param))
	}
	if h.registry.Remove(task.id) {
		log.WithFields(h.LogTags).Debugf("Removed session %s, %d open", task.id, h.registry.Len())
	}
	return nil
}

func (h *hub) processBroadcast(param interface{}) error {
	task, ok := param.(broadcastTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for broadcast", reflect.TypeOf(param))
	}
	h.registry.Each(task.from, func(sess *session) {
		if sess.State() == SessionOpen {
			sess.enqueue(task.frame)
		}
	})
	return nil
}

func (h *hub) processFanout(param interface{}) error {
	task, ok := param.(fanoutTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for fan-out", reflect.TypeOf(param))
	}
	h.registry.Each("", func(sess *session) {
		if sess.State() == SessionOpen {
			sess.enqueue(task.frame)
		}
	})
	return nil
}

func (h *hub) processCount(param interface{}) error {
	task, ok := param.(countTask)
	if !ok {
		return fmt.Errorf("can not process unknown type %s for count", reflect.TypeOf(param))
	}
	task.reply <- h.registry.Len()
	return nil
}

func (h *hub) register(ctxt context.Context, sess *session) error {
	return h.tp.Submit(ctxt, registerTask{sess: sess})
}

func (h *hub) deregister(ctxt context.Context, id string) error {
	return h.tp.Submit(ctxt, deregisterTask{id: id})
}

func (h *hub) broadcast(ctxt context.Context, from string, frame []byte) error {
	return h.tp.Submit(ctxt, broadcastTask{from: from, frame: frame})
}

func (h *hub) fanout(ctxt context.Context, frame []byte) error {
	return h.tp.Submit(ctxt, fanoutTask{frame: frame})
}

func (h *hub) count(ctxt context.Context) (int, error) {
	reply := make(chan int, 1)
	if err := h.tp.Submit(ctxt, countTask{reply: reply}); err != nil {
		return 0, err
	}
	select {
	case count := <-reply:
		return count, nil
	case <-ctxt.Done():
		return 0, ctxt.Err()
	}
}
