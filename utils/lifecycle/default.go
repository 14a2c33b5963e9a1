package lifecycle

import (
	"sync"

	"github.com/ugparu/gocedar/utils/logger"
)

type defaultLifecycleManager[T Instance] struct {
	instance             T
	mu                   sync.Mutex
	closed               bool
	startOnce, closeOnce sync.Once
}

// NewDefaultManager returns a Manager for instance.
// Close runs instance.Close_ even when Start failed or was never called,
// so partially acquired resources are always handed back.
func NewDefaultManager[T Instance](instance T) Manager[T] {
	return &defaultLifecycleManager[T]{instance: instance}
}

func (ssc *defaultLifecycleManager[T]) Start(startFunc func(T) error) (err error) {
	ssc.mu.Lock()
	if ssc.closed {
		ssc.mu.Unlock()
		return &StartedAfterCloseError{}
	}
	ssc.mu.Unlock()

	err = &StartedAlreadyError{}
	ssc.startOnce.Do(func() {
		logger.Debug(ssc.instance, "Starting")
		if err = startFunc(ssc.instance); err != nil {
			logger.Debugf(ssc.instance, "Start failed: %v", err)
		}
	})
	return err
}

func (ssc *defaultLifecycleManager[T]) Close() {
	ssc.closeOnce.Do(func() {
		ssc.mu.Lock()
		ssc.closed = true
		ssc.mu.Unlock()
		logger.Debug(ssc.instance, "Closing")
		ssc.instance.Close_()
	})
}

func (ssc *defaultLifecycleManager[T]) Closed() bool {
	ssc.mu.Lock()
	defer ssc.mu.Unlock()
	return ssc.closed
}
