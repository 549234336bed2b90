package runtimedriver

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ConsoleSocket listens on a unix socket for the single SCM_RIGHTS
// message the OCI runtime sends containing the container's pty master fd,
// per the OCI runtime spec's --console-socket convention.
type ConsoleSocket struct {
	path     string
	listener *net.UnixListener
}

// NewConsoleSocket creates and binds a console socket at path, replacing
// any stale socket file left behind by a previous run.
func NewConsoleSocket(path string) (*ConsoleSocket, error) {
	_ = os.Remove(path)

	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("resolve console socket addr: %w", err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on console socket: %w", err)
	}

	return &ConsoleSocket{path: path, listener: listener}, nil
}

// Path returns the filesystem path to pass as --console-socket.
func (c *ConsoleSocket) Path() string {
	return c.path
}

// AcceptPty blocks for the runtime's single connection, reads its
// SCM_RIGHTS control message, and returns the container's pty master as
// an *os.File. The connection is then closed; only one fd is ever sent.
func (c *ConsoleSocket) AcceptPty() (*os.File, error) {
	conn, err := c.listener.AcceptUnix()
	if err != nil {
		return nil, fmt.Errorf("accept console connection: %w", err)
	}
	defer conn.Close()

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("get raw console connection: %w", err)
	}

	var ptyFd *os.File
	var ctrlErr error

	err = rawConn.Read(func(fd uintptr) bool {
		buf := make([]byte, 4096)
		oob := make([]byte, unix.CmsgSpace(4))

		n, oobn, _, _, readErr := unix.Recvmsg(int(fd), buf, oob, 0)
		if readErr != nil {
			ctrlErr = fmt.Errorf("recvmsg on console socket: %w", readErr)
			return true
		}
		_ = n

		msgs, parseErr := unix.ParseSocketControlMessage(oob[:oobn])
		if parseErr != nil {
			ctrlErr = fmt.Errorf("parse control message: %w", parseErr)
			return true
		}
		if len(msgs) == 0 {
			ctrlErr = fmt.Errorf("console connection carried no control message")
			return true
		}

		fds, parseErr := unix.ParseUnixRights(&msgs[0])
		if parseErr != nil || len(fds) == 0 {
			ctrlErr = fmt.Errorf("no fds in console control message: %w", parseErr)
			return true
		}

		ptyFd = os.NewFile(uintptr(fds[0]), "pty-master")
		return true
	})

	if err != nil {
		return nil, fmt.Errorf("console read dispatch: %w", err)
	}
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	return ptyFd, nil
}

// Close removes the socket file and stops listening.
func (c *ConsoleSocket) Close() error {
	err := c.listener.Close()
	_ = os.Remove(c.path)
	return err
}
