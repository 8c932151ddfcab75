//go:build linux

package notify

import (
	"errors"

	"golang.org/x/sys/unix"
)

// epollPoller multiplexes the inotify fd with a self-pipe used for
// control-thread wakeups (shutdown), following the reference
// implementation's inotify_poller.go almost exactly but on golang.org/x/sys
// instead of raw syscall, and treating the control pipe as higher priority
// than the kernel fd.
type epollPoller struct {
	fd   int
	epfd int
	pipe [2]int
}

func newEpollPoller(fd int) (*epollPoller, error) {
	p := &epollPoller{fd: fd}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	p.epfd = epfd

	if err := unix.Pipe2(p.pipe[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		unix.Close(epfd)
		return nil, err
	}

	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLIN}); err != nil {
		p.close()
		return nil, err
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, p.pipe[0], &unix.EpollEvent{Fd: int32(p.pipe[0]), Events: unix.EPOLLIN}); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// wait blocks until the inotify fd has data or the pipe is woken, returning
// true if the inotify fd is ready to read.
func (p *epollPoller) wait() (bool, error) {
	events := make([]unix.EpollEvent, 4)
	for {
		n, err := unix.EpollWait(p.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return false, err
		}
		if n == 0 {
			continue
		}

		pipeReady, fdReady := false, false
		for _, ev := range events[:n] {
			switch int(ev.Fd) {
			case p.fd:
				fdReady = fdReady || ev.Events&unix.EPOLLIN != 0 || ev.Events&unix.EPOLLERR != 0
			case p.pipe[0]:
				if ev.Events&unix.EPOLLIN != 0 {
					pipeReady = true
					p.drainPipe()
				}
			}
		}
		// Control pipe takes priority: a wakeup means "stop waiting", even
		// if the kernel fd also has data -- the caller will re-enter wait()
		// on its next loop iteration if it's still open.
		if pipeReady {
			return false, nil
		}
		if fdReady {
			return true, nil
		}
		return false, errors.New("epoll_wait returned with nothing recognized")
	}
}

func (p *epollPoller) drainPipe() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(p.pipe[0], buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *epollPoller) wake() {
	unix.Write(p.pipe[1], []byte{0})
}

func (p *epollPoller) close() {
	unix.Close(p.pipe[1])
	unix.Close(p.pipe[0])
	unix.Close(p.epfd)
}
