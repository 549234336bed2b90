// Package pollloop is a single-threaded epoll-driven event loop that
// dispatches readiness on registered fds to their handlers. No other
// package in dobbyd registers sources with it. One Loop owns one epoll
// fd, a cancellation eventfd, and a periodic timerfd reserved for
// deferred sources. Handlers run only on the goroutine running Run; Add,
// Modify, Remove and Stop update those fds from the caller's goroutine.
package pollloop

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// EventMask is the subset of epoll readiness a source can be registered
// for, plus the loop-private Deferred bit used for timerfd-driven sources.
type EventMask uint32

const (
	Readable EventMask = 1 << iota
	Writable
	PeerHangup
	Deferred
)

// MaxSources bounds the number of fds a single Loop will track; Add
// refuses past this rather than growing unbounded.
const MaxSources = 1024

// FatalFailureThreshold is the number of consecutive epoll_wait failures
// that shut the loop down.
const FatalFailureThreshold = 6

// deferredInterval is how often the timerfd fires while at least one
// Deferred source is registered.
const deferredInterval = 100 * time.Millisecond

// Handler is implemented by anything a Loop dispatches readiness to.
type Handler interface {
	// Process runs on the loop's own goroutine; it may add, modify or
	// remove sources on loop, including its own.
	Process(loop *Loop, mask EventMask)
}

// weakRef lets the loop hold a reference to a Handler that its owner can
// invalidate without having to remove the underlying source — matching
// the "no new invocations, not no concurrent invocation" removal
// contract: an upgrade that fails after release just drops this
// iteration's dispatch, it doesn't touch the source list.
type weakRef struct {
	mu     sync.Mutex
	target Handler
}

func newWeakRef(h Handler) *weakRef {
	return &weakRef{target: h}
}

func (w *weakRef) upgrade() (Handler, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.target == nil {
		return nil, false
	}
	return w.target, true
}

func (w *weakRef) release() {
	w.mu.Lock()
	w.target = nil
	w.mu.Unlock()
}

type sourceEntry struct {
	fd   int
	mask EventMask
	weak *weakRef
}

// Handle is returned by Add; callers use it to Remove a source or to
// Release their strong reference early without removing it.
type Handle struct {
	loop *Loop
	fd   int
	weak *weakRef
}

// Release drops the loop's strong-upgradeable reference to the handler.
// The source stays registered (and will keep appearing in dispatch
// batches, silently skipped) until Remove is called.
func (h *Handle) Release() {
	h.weak.release()
}

// Remove deletes the source from the loop entirely.
func (h *Handle) Remove() error {
	return h.loop.Remove(h.fd)
}

// Loop is one epoll worker: a flat source map keyed by fd, guarded by a
// mutex (never held across a handler's Process call), a cancellation
// eventfd, and a timerfd for Deferred sources.
type Loop struct {
	epfd     int
	cancelFd int
	timerFd  int

	mu            sync.Mutex
	sources       map[int]*sourceEntry
	deferredCount int
	timerRunning  bool

	failures int
	logger   zerolog.Logger
}

// New creates the epoll fd, cancellation eventfd and timerfd and
// registers the latter two with epoll. It does not start dispatching
// until Run is called.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	cancelFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	timerFd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		unix.Close(cancelFd)
		return nil, fmt.Errorf("timerfd_create: %w", err)
	}

	l := &Loop{
		epfd:     epfd,
		cancelFd: cancelFd,
		timerFd:  timerFd,
		sources:  make(map[int]*sourceEntry),
		logger:   log.WithComponent("pollloop"),
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, cancelFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(cancelFd)}); err != nil {
		l.Close()
		return nil, fmt.Errorf("epoll_ctl add cancel fd: %w", err)
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, timerFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(timerFd)}); err != nil {
		l.Close()
		return nil, fmt.Errorf("epoll_ctl add timer fd: %w", err)
	}

	return l, nil
}

// Add registers handler against fd for the given mask. It fails if fd is
// negative or the source cap is already reached.
func (l *Loop) Add(handler Handler, fd int, mask EventMask) (*Handle, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid fd %d", fd)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.sources[fd]; exists {
		return nil, fmt.Errorf("fd %d already registered", fd)
	}
	if len(l.sources) >= MaxSources {
		return nil, fmt.Errorf("source cap (%d) exceeded", MaxSources)
	}

	weak := newWeakRef(handler)
	entry := &sourceEntry{fd: fd, mask: mask, weak: weak}

	if epollBits := toEpollEvents(mask); epollBits != 0 {
		if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: epollBits, Fd: int32(fd)}); err != nil {
			return nil, fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
		}
	}
	l.sources[fd] = entry
	metrics.PollLoopSourcesActive.Set(float64(len(l.sources)))

	if mask&Deferred != 0 {
		l.deferredCount++
		if l.deferredCount == 1 {
			l.startTimerLocked()
		}
	}

	return &Handle{loop: l, fd: fd, weak: weak}, nil
}

// Modify changes fd's registered mask, adjusting the deferred counter and
// timerfd arm state on a 0↔1 edge.
func (l *Loop) Modify(fd int, mask EventMask) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.sources[fd]
	if !ok {
		return fmt.Errorf("no source for fd %d", fd)
	}

	wasDeferred := entry.mask&Deferred != 0
	isDeferred := mask&Deferred != 0
	entry.mask = mask

	if isDeferred && !wasDeferred {
		l.deferredCount++
		if l.deferredCount == 1 {
			l.startTimerLocked()
		}
	} else if !isDeferred && wasDeferred {
		l.deferredCount--
		if l.deferredCount == 0 {
			l.stopTimerLocked()
		}
	}

	if epollBits := toEpollEvents(mask); epollBits != 0 {
		return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: epollBits, Fd: int32(fd)})
	}
	return nil
}

// Remove deletes fd from the loop's source list and from epoll. A
// handler already promoted into the current dispatch batch may still run
// once more — the contract is "no new invocations", not "no concurrent
// invocation".
func (l *Loop) Remove(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.sources[fd]
	if !ok {
		return fmt.Errorf("no source for fd %d", fd)
	}
	delete(l.sources, fd)
	metrics.PollLoopSourcesActive.Set(float64(len(l.sources)))

	if entry.mask&Deferred != 0 {
		l.deferredCount--
		if l.deferredCount == 0 {
			l.stopTimerLocked()
		}
	}

	if toEpollEvents(entry.mask) != 0 {
		if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
			return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
		}
	}
	return nil
}

// Stop signals the loop's cancellation eventfd; Run observes it, closes
// every owned fd, and returns.
func (l *Loop) Stop() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	_, err := unix.Write(l.cancelFd, buf)
	return err
}

// Close releases the loop's own fds (epoll, cancellation, timer) without
// touching any fd a caller registered via Add — ownership of those stays
// with the caller.
func (l *Loop) Close() {
	unix.Close(l.timerFd)
	unix.Close(l.cancelFd)
	unix.Close(l.epfd)
}

type dispatchItem struct {
	weak *weakRef
	mask EventMask
}

// Run blocks, dispatching readiness to registered handlers until Stop is
// called or the fatal failure threshold is reached.
func (l *Loop) Run() error {
	defer l.Close()

	events := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(l.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			l.failures++
			metrics.PollLoopFailuresTotal.Inc()
			l.logger.Warn().Err(err).Int("consecutive_failures", l.failures).Msg("epoll_wait failed")
			if l.failures >= FatalFailureThreshold {
				l.logger.Error().Int("consecutive_failures", l.failures).Msg("fatal: epoll_wait failure threshold reached, loop exiting")
				return fmt.Errorf("epoll_wait failed %d consecutive times: %w", l.failures, err)
			}
			continue
		}
		l.failures = 0

		done, batch := l.resolveBatch(events[:n])

		for _, item := range batch {
			handler, ok := item.weak.upgrade()
			if !ok {
				continue
			}
			metrics.PollLoopDispatchTotal.Inc()
			handler.Process(l, item.mask)
		}

		if done {
			return nil
		}
	}
}

func (l *Loop) resolveBatch(ready []unix.EpollEvent) (bool, []dispatchItem) {
	l.mu.Lock()
	defer l.mu.Unlock()

	done := false
	var batch []dispatchItem

	for _, ev := range ready {
		fd := int(ev.Fd)
		switch fd {
		case l.cancelFd:
			done = true
		case l.timerFd:
			drainTimerfd(l.timerFd)
			for _, src := range l.sources {
				if src.mask&Deferred != 0 {
					batch = append(batch, dispatchItem{weak: src.weak, mask: Deferred})
				}
			}
		default:
			src, ok := l.sources[fd]
			if !ok {
				l.logger.Debug().Int("fd", fd).Msg("readiness for unregistered fd, skipping")
				continue
			}
			batch = append(batch, dispatchItem{weak: src.weak, mask: fromEpollEvents(ev.Events)})
		}
	}
	return done, batch
}

func (l *Loop) startTimerLocked() {
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(deferredInterval.Nanoseconds()),
		Value:    unix.NsecToTimespec(deferredInterval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(l.timerFd, 0, &spec, nil); err != nil {
		l.logger.Warn().Err(err).Msg("failed to arm deferred timerfd")
		return
	}
	l.timerRunning = true
}

func (l *Loop) stopTimerLocked() {
	spec := unix.ItimerSpec{}
	if err := unix.TimerfdSettime(l.timerFd, 0, &spec, nil); err != nil {
		l.logger.Warn().Err(err).Msg("failed to disarm deferred timerfd")
		return
	}
	l.timerRunning = false
}

func drainTimerfd(fd int) {
	buf := make([]byte, 8)
	_, _ = unix.Read(fd, buf)
}

func toEpollEvents(mask EventMask) uint32 {
	var bits uint32
	if mask&Readable != 0 {
		bits |= unix.EPOLLIN
	}
	if mask&Writable != 0 {
		bits |= unix.EPOLLOUT
	}
	if mask&PeerHangup != 0 {
		bits |= unix.EPOLLRDHUP
	}
	return bits
}

func fromEpollEvents(bits uint32) EventMask {
	var mask EventMask
	if bits&unix.EPOLLIN != 0 {
		mask |= Readable
	}
	if bits&unix.EPOLLOUT != 0 {
		mask |= Writable
	}
	if bits&unix.EPOLLRDHUP != 0 {
		mask |= PeerHangup
	}
	return mask
}
