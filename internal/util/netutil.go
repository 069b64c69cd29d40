package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"
)

const (
	// ListenFdsEnvKey carries the number of listening sockets passed in by a
	// socket-activating supervisor such as systemd.
	ListenFdsEnvKey = "LISTEN_FDS"
	// ListenPidEnvKey names the process the sockets are meant for.
	ListenPidEnvKey = "LISTEN_PID"

	// listenFdsStart is SD_LISTEN_FDS_START.
	listenFdsStart = 3
)

// ErrNoInheritedListeners is returned when the environment does not hand
// this process any sockets.
var ErrNoInheritedListeners = errors.New("no inherited listeners")

// reuseAddrControl sets SO_REUSEADDR so a restarted server can rebind while
// old connections sit in TIME_WAIT.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// CreateListener creates a TCP listener on address. When maxConns is
// positive, at most maxConns connections are accepted at once; further
// clients wait in the kernel backlog.
func CreateListener(ctx context.Context, network, address string, maxConns int) (net.Listener, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("unsupported network type: %s, only 'tcp', 'tcp4', or 'tcp6' are supported for CreateListener", network)
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	l, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}
	return LimitListener(l, maxConns), nil
}

// LimitListener wraps l with a connection cap when maxConns is positive.
func LimitListener(l net.Listener, maxConns int) net.Listener {
	if maxConns <= 0 {
		return l
	}
	return netutil.LimitListener(l, maxConns)
}

// SetCloexec sets or clears the close-on-exec flag for a file descriptor.
func SetCloexec(fd uintptr, enabled bool) error {
	flags, err := unix.FcntlInt(fd, unix.F_GETFD, 0)
	if err != nil {
		return fmt.Errorf("fcntl F_GETFD failed for fd %d: %w", fd, err)
	}
	if enabled {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	if _, err := unix.FcntlInt(fd, unix.F_SETFD, flags); err != nil {
		return fmt.Errorf("fcntl F_SETFD failed for fd %d: %w", fd, err)
	}
	return nil
}

// NewListenerFromFD creates a net.Listener from an inherited file descriptor.
// The descriptor is marked close-on-exec so it does not leak into children.
func NewListenerFromFD(fd uintptr) (net.Listener, error) {
	if err := SetCloexec(fd, true); err != nil {
		return nil, err
	}
	file := os.NewFile(fd, fmt.Sprintf("listener-from-fd-%d", fd))
	if file == nil {
		return nil, fmt.Errorf("os.NewFile returned nil for FD %d", fd)
	}
	// net.FileListener dups the descriptor, so the *os.File is ours to close.
	defer file.Close()

	listener, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("net.FileListener failed for FD %d: %w", fd, err)
	}
	return listener, nil
}

// ParseInheritedListenerFDs reads LISTEN_FDS and LISTEN_PID. It returns
// ErrNoInheritedListeners when the variables are unset or addressed to a
// different process.
func ParseInheritedListenerFDs(getenv func(string) string, pid int) ([]uintptr, error) {
	countStr := getenv(ListenFdsEnvKey)
	if countStr == "" {
		return nil, ErrNoInheritedListeners
	}
	if pidStr := getenv(ListenPidEnvKey); pidStr != "" {
		target, err := strconv.Atoi(pidStr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", ListenPidEnvKey, pidStr, err)
		}
		if target != pid {
			return nil, ErrNoInheritedListeners
		}
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", ListenFdsEnvKey, countStr, err)
	}
	if count <= 0 {
		return nil, ErrNoInheritedListeners
	}

	fds := make([]uintptr, count)
	for i := range fds {
		fds[i] = uintptr(listenFdsStart + i)
	}
	return fds, nil
}

// InheritedListener returns the first socket handed over through LISTEN_FDS,
// wrapped with the connection cap. ErrNoInheritedListeners means the caller
// should create its own listener.
func InheritedListener(maxConns int) (net.Listener, error) {
	fds, err := ParseInheritedListenerFDs(os.Getenv, os.Getpid())
	if err != nil {
		return nil, err
	}
	l, err := NewListenerFromFD(fds[0])
	if err != nil {
		return nil, err
	}
	// The variables must not leak into anything we spawn.
	_ = os.Unsetenv(ListenFdsEnvKey)
	_ = os.Unsetenv(ListenPidEnvKey)
	return LimitListener(l, maxConns), nil
}
