package process

// NewTestHandle returns a ChildHandle not backed by any real OS process, for
// use by other packages' tests (notably internal/supervisor) that need to
// drive a fake Controller without actually forking anything.
func NewTestHandle(pid int) *ChildHandle {
	return &ChildHandle{pid: pid, done: make(chan struct{})}
}
