// internal/worker/manager.go
package worker

import (
	"errors"
	"fmt"
	"log"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/celestia-island/aoba-sub003/internal/ipc"
)

var (
	// ErrAlreadyStarted rejects a second worker for a port. Callers must
	// stop the first or use Restart.
	ErrAlreadyStarted = errors.New("worker: process already registered for port")
	// ErrNoWorker names a port without a registered worker.
	ErrNoWorker = errors.New("worker: no process registered for port")
)

// Stop waits this long, this many times, for a confirming event before
// removing an unresponsive worker anyway.
const (
	stopWaitStep  = 100 * time.Millisecond
	stopWaitTries = 10
)

const messageQueueDepth = 256

// ExitStatus reports one reaped worker.
type ExitStatus struct {
	Port string
	Code int
	Err  string
}

// Info is a point-in-time view of a managed worker.
type Info struct {
	Port          string
	PID           int
	StartedAt     time.Time
	LastHeartbeat time.Time
	Config        Config
}

// PortMessage pairs a drained IPC message with its originating port.
type PortMessage struct {
	Port    string
	Message ipc.Message
}

type process struct {
	cfg Config

	// mu guards the fields below. cmd and transport stay nil until the
	// worker has connected; Stop during that window marks canceled and
	// the start path cleans up the child itself.
	mu            sync.Mutex
	cmd           *exec.Cmd
	transport     *ipc.Transport
	startedAt     time.Time
	lastHeartbeat time.Time
	canceled      bool

	msgs   chan ipc.Message
	exited chan ExitStatus // buffered 1, written by the wait goroutine
	done   chan struct{}   // closed to stop the receive loop
}

func (p *process) noteHeartbeat() {
	p.mu.Lock()
	p.lastHeartbeat = time.Now()
	p.mu.Unlock()
}

// Manager owns zero-or-one worker process per port.
type Manager struct {
	mu     sync.Mutex
	procs  map[string]*process
	logger *log.Logger
}

func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		procs:  make(map[string]*process),
		logger: logger,
	}
}

// Start launches a worker for the port. The manager listens on the
// derived IPC endpoints first so the worker's client-connect retry loop
// finds it immediately.
func (m *Manager) Start(port string, cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.procs[port]; ok {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	// Reserve the slot before the blocking setup below.
	p := &process{
		cfg:    cfg,
		msgs:   make(chan ipc.Message, messageQueueDepth),
		exited: make(chan ExitStatus, 1),
		done:   make(chan struct{}),
	}
	m.procs[port] = p
	m.mu.Unlock()

	fail := func(err error) error {
		m.mu.Lock()
		delete(m.procs, port)
		m.mu.Unlock()
		return err
	}

	ln, err := ipc.Listen(EndpointBase(cfg.IPCDir, port))
	if err != nil {
		return fail(err)
	}

	cmd := exec.Command(cfg.Binary, cfg.args()...)
	if err := cmd.Start(); err != nil {
		ln.Close()
		return fail(fmt.Errorf("worker: start %s: %w", cfg.Binary, err))
	}

	tr, err := ln.Accept(cfg.ConnectTimeout, cfg.IOTimeout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fail(fmt.Errorf("worker: %s never connected: %w", port, err))
	}

	p.mu.Lock()
	if p.canceled {
		p.mu.Unlock()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = tr.Close()
		return fmt.Errorf("worker: %s stopped during start", port)
	}
	p.cmd = cmd
	p.transport = tr
	p.startedAt = time.Now()
	p.mu.Unlock()

	go m.wait(port, p)
	go m.receive(port, p)
	return nil
}

// wait reaps the OS process and surfaces its exit status exactly once.
func (m *Manager) wait(port string, p *process) {
	err := p.cmd.Wait()
	st := ExitStatus{Port: port, Code: p.cmd.ProcessState.ExitCode()}
	if err != nil {
		st.Err = err.Error()
	}
	p.exited <- st
}

// receive drains the worker's transport into the message queue. A quiet
// deadline is tolerated (the wait goroutine notices real death); a
// desynchronized stream ends the loop.
func (m *Manager) receive(port string, p *process) {
	for {
		select {
		case <-p.done:
			return
		default:
		}
		msg, err := p.transport.Recv()
		if err != nil {
			if ipc.IsTimeout(err) {
				continue
			}
			select {
			case <-p.done:
			default:
				m.logger.Printf("worker %s: ipc receive ended: %v", port, err)
			}
			return
		}
		if msg.Type == ipc.THeartbeat {
			p.noteHeartbeat()
		}
		select {
		case p.msgs <- msg:
		default:
			// Queue full: drop oldest to keep draining.
			select {
			case <-p.msgs:
			default:
			}
			p.msgs <- msg
		}
	}
}

// Stop sends a shutdown command and waits, bounded, for the worker to
// confirm by exiting. An unconfirmed worker is still removed; forward
// progress beats strict acknowledgement.
func (m *Manager) Stop(port string) error {
	m.mu.Lock()
	p, ok := m.procs[port]
	if !ok {
		m.mu.Unlock()
		// Stopping a non-existent worker is a no-op.
		return nil
	}
	delete(m.procs, port)
	m.mu.Unlock()

	p.mu.Lock()
	p.canceled = true
	cmd, tr := p.cmd, p.transport
	p.mu.Unlock()
	if tr == nil {
		// Worker never connected; the start path sees the cancel mark
		// and kills the child itself.
		return nil
	}

	if err := tr.Send(ipc.Message{Type: ipc.TShutdown, Port: port}); err != nil {
		m.logger.Printf("worker %s: shutdown send failed: %v", port, err)
	}

	confirmed := false
	for i := 0; i < stopWaitTries; i++ {
		select {
		case <-p.exited:
			confirmed = true
		case <-time.After(stopWaitStep):
			continue
		}
		break
	}
	if !confirmed {
		m.logger.Printf("worker %s: no exit confirmation, killing", port)
		_ = cmd.Process.Kill()
	}
	close(p.done)
	_ = tr.Close()
	return nil
}

// Restart stops any existing worker for the port and starts a new one
// with the given config.
func (m *Manager) Restart(port string, cfg Config) error {
	if err := m.Stop(port); err != nil {
		return err
	}
	return m.Start(port, cfg)
}

// Snapshot returns a view of the worker on a port, or nil.
func (m *Manager) Snapshot(port string) *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[port]
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	return &Info{
		Port:          port,
		PID:           p.cmd.Process.Pid,
		StartedAt:     p.startedAt,
		LastHeartbeat: p.lastHeartbeat,
		Config:        p.cfg,
	}
}

// ActivePorts lists ports with a registered worker, sorted.
func (m *Manager) ActivePorts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.procs))
	for port := range m.procs {
		out = append(out, port)
	}
	sort.Strings(out)
	return out
}

// ReapDead removes workers whose process exited and returns each exit
// status exactly once. Must be called every runtime tick.
func (m *Manager) ReapDead() []ExitStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dead []ExitStatus
	for port, p := range m.procs {
		select {
		case st := <-p.exited:
			dead = append(dead, st)
			delete(m.procs, port)
			close(p.done)
			_ = p.transport.Close()
		default:
		}
	}
	sort.Slice(dead, func(i, j int) bool { return dead[i].Port < dead[j].Port })
	return dead
}

// PollMessages drains all currently-available messages from every active
// worker without waiting.
func (m *Manager) PollMessages() []PortMessage {
	m.mu.Lock()
	procs := make(map[string]*process, len(m.procs))
	for port, p := range m.procs {
		procs[port] = p
	}
	m.mu.Unlock()

	var out []PortMessage
	ports := make([]string, 0, len(procs))
	for port := range procs {
		ports = append(ports, port)
	}
	sort.Strings(ports)
	for _, port := range ports {
		p := procs[port]
	drain:
		for {
			select {
			case msg := <-p.msgs:
				out = append(out, PortMessage{Port: port, Message: msg})
			default:
				break drain
			}
		}
	}
	return out
}

// Send forwards one message to the worker on a port.
func (m *Manager) Send(port string, msg ipc.Message) error {
	m.mu.Lock()
	p, ok := m.procs[port]
	m.mu.Unlock()
	if !ok {
		return ErrNoWorker
	}
	p.mu.Lock()
	tr := p.transport
	p.mu.Unlock()
	if tr == nil {
		return ErrNoWorker
	}
	return tr.Send(msg)
}

// ShutdownAll stops every active worker. Application exit only.
func (m *Manager) ShutdownAll() {
	for _, port := range m.ActivePorts() {
		if err := m.Stop(port); err != nil {
			m.logger.Printf("worker %s: stop failed: %v", port, err)
		}
	}
}
