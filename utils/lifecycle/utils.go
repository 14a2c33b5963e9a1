package lifecycle

// Instance is an object whose teardown is driven by a Manager.
type Instance interface {
	Close_()
	String() string
}

// Manager runs a start function at most once and the instance teardown at most once.
type Manager[T Instance] interface {
	Start(func(T) error) error
	Close()
	Closed() bool
}

type StartedAlreadyError struct{}

func (*StartedAlreadyError) Error() string {
	return "started already"
}

type StartedAfterCloseError struct{}

func (*StartedAfterCloseError) Error() string {
	return "start after close"
}
