// internal/runtime/loop.go
package runtime

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/celestia-island/aoba-sub003/internal/config"
	"github.com/celestia-island/aoba-sub003/internal/ports"
	"github.com/celestia-island/aoba-sub003/internal/registers"
	"github.com/celestia-island/aoba-sub003/internal/scheduler"
	"github.com/celestia-island/aoba-sub003/internal/status"
	"github.com/celestia-island/aoba-sub003/internal/worker"
)

// Hooks are the runtime's outward surface. The UI and automation layers
// observe through these; all of them may be nil.
type Hooks struct {
	// OnHeartbeat fires once per loop iteration.
	OnHeartbeat func()
	// OnPortsChanged fires after a scan that added or removed ports.
	OnPortsChanged func(added, removed []string)
	// OnBanner surfaces a user-visible error banner.
	OnBanner func(port, text string)
}

// Loop is the process-wide coordinator: it multiplexes UI commands, dead
// worker reaping, IPC drains, periodic rescans, and scheduler ticks.
type Loop struct {
	cfg *config.ConsoleConfig
	reg *ports.Registry
	mgr *worker.Manager
	sw  *status.Writer

	logger *log.Logger
	hooks  Hooks

	cmds chan Command

	paused   bool
	lockedBy string
	focused  string
	lastScan time.Time

	pumpStops map[string]chan struct{}
	pumpWG    sync.WaitGroup

	quit bool
}

const commandQueueDepth = 64

func NewLoop(cfg *config.ConsoleConfig, reg *ports.Registry, mgr *worker.Manager, sw *status.Writer, logger *log.Logger, hooks Hooks) *Loop {
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{
		cfg:       cfg,
		reg:       reg,
		mgr:       mgr,
		sw:        sw,
		logger:    logger,
		hooks:     hooks,
		cmds:      make(chan Command, commandQueueDepth),
		pumpStops: make(map[string]chan struct{}),
	}
}

// Run iterates until a quit command. Quit is terminal: all workers are
// shut down and the loop never re-enters.
func (l *Loop) Run() {
	tick := time.Duration(l.cfg.TickIntervalMs) * time.Millisecond
	scanEvery := time.Duration(l.cfg.ScanIntervalMs) * time.Millisecond

	for !l.quit {
		l.drainCommands()
		if l.quit {
			break
		}

		l.reapDead()
		l.drainIPC()

		if !l.paused && l.lockedBy == "" && time.Since(l.lastScan) >= scanEvery {
			l.rescan()
		}

		l.schedulerTick(time.Now())
		l.writeStatus()

		if l.hooks.OnHeartbeat != nil {
			l.hooks.OnHeartbeat()
		}
		time.Sleep(tick)
	}

	l.mgr.ShutdownAll()
	l.stopAllPumps()
	l.logger.Printf("runtime: loop exited")
}

// ------------------------------------------------------------
// COMMANDS
// ------------------------------------------------------------

func (l *Loop) drainCommands() {
	for {
		select {
		case cmd := <-l.cmds:
			l.apply(cmd)
			if l.quit {
				return
			}
		default:
			return
		}
	}
}

func (l *Loop) apply(cmd Command) {
	switch cmd.Kind {
	case CmdQuit:
		l.quit = true

	case CmdRefresh:
		// Nothing to recompute: the model is always current; the UI
		// re-reads on its next frame.

	case CmdPausePolling:
		l.paused = true
	case CmdResumePolling:
		l.paused = false

	case CmdRescan:
		l.rescan()

	case CmdFocusPort:
		l.focused = cmd.Port

	case CmdTogglePolling:
		_ = l.reg.With(cmd.Port, func(p *ports.Port) error {
			p.Form.PollingEnabled = !p.Form.PollingEnabled
			return nil
		})

	case CmdStartWorker:
		l.launchWorker(cmd.Port)

	case CmdStopWorker:
		l.stopWorker(cmd.Port)

	case CmdRestartWorker:
		l.stopWorker(cmd.Port)
		l.launchWorker(cmd.Port)

	case cmdWorkerStarted:
		l.finishStartWorker(cmd.Port)

	case cmdWorkerStartFailed:
		l.abortStartWorker(cmd.Port, cmd.Err)

	case CmdUpdateRegister:
		l.updateRegister(cmd)

	case CmdStateLock:
		if cmd.Locked {
			l.lockedBy = cmd.Requester
		} else if l.lockedBy == cmd.Requester {
			l.lockedBy = ""
		}
	}
}

// StatusLines renders a plain-text status summary, one line per port.
// Safe to call from any goroutine.
func (l *Loop) StatusLines() []string {
	var out []string
	for _, name := range l.reg.Names() {
		l.reg.View(name, func(p *ports.Port) {
			line := p.Name + " state=" + p.State.String()
			if p.Form.PollingEnabled {
				line += " polling"
			}
			out = append(out, line)
		})
	}
	return out
}

func (l *Loop) banner(port, text string) {
	l.logger.Printf("runtime: %s: %s", port, text)
	if l.hooks.OnBanner != nil {
		l.hooks.OnBanner(port, text)
	}
}

// ------------------------------------------------------------
// WORKER LIFECYCLE
// ------------------------------------------------------------

func (l *Loop) workerConfig(port string) worker.Config {
	pc := l.portConfig(port)
	wc := worker.Config{
		Binary:         l.cfg.WorkerBinary,
		Port:           port,
		Baud:           pc.Baud,
		Role:           "slave-listen",
		IPCDir:         l.cfg.IPC.Dir,
		ConnectTimeout: time.Duration(l.cfg.IPC.ConnectTimeoutMs) * time.Millisecond,
		RetryInterval:  time.Duration(l.cfg.IPC.RetryIntervalMs) * time.Millisecond,
		IOTimeout:      time.Duration(l.cfg.IPC.IOTimeoutMs) * time.Millisecond,
	}
	// The first configured range decides the worker's role and geometry;
	// further ranges reach it through StationsUpdate pushes.
	if len(pc.Ranges) > 0 {
		r := pc.Ranges[0]
		wc.Station = r.Station
		wc.RegisterKind = r.Kind
		wc.RegisterAddress = r.Address
		wc.RegisterLength = r.Length
		wc.DataSource = r.DataSource
		if r.Role == "master" {
			wc.Role = "master-provide"
		}
	}
	return wc
}

func (l *Loop) portConfig(port string) config.PortConfig {
	for _, pc := range l.cfg.Ports {
		if pc.Name == port {
			return pc
		}
	}
	return config.PortConfig{Name: port, Baud: config.DefaultBaud}
}

// launchWorker enforces single occupancy synchronously, then runs the
// blocking process start off the loop goroutine. The outcome comes back
// as an internal command so the loop keeps ticking while the worker
// connects.
func (l *Loop) launchWorker(port string) {
	err := l.reg.With(port, func(p *ports.Port) error {
		return p.Occupy()
	})
	if err != nil {
		l.banner(port, "worker start failed: "+err.Error())
		return
	}

	cfg := l.workerConfig(port)
	go func() {
		if err := l.mgr.Start(port, cfg); err != nil {
			l.postResult(Command{Kind: cmdWorkerStartFailed, Port: port, Err: err.Error()})
			return
		}
		l.postResult(Command{Kind: cmdWorkerStarted, Port: port})
	}()
}

// postResult must not drop: the occupancy reserved by launchWorker is
// only settled by the result command.
func (l *Loop) postResult(cmd Command) {
	l.cmds <- cmd
}

// finishStartWorker attaches the connected worker to its port and spawns
// the per-port pump that drains the transport channel into the model.
func (l *Loop) finishStartWorker(port string) {
	var ch *ports.Channel
	_ = l.reg.With(port, func(p *ports.Port) error {
		ch = p.Channel
		return nil
	})
	if ch == nil {
		// Port was released while the worker connected.
		_ = l.mgr.Stop(port)
		return
	}

	if info := l.mgr.Snapshot(port); info != nil {
		_ = l.reg.With(port, func(p *ports.Port) error {
			p.WorkerPID = info.PID
			p.WorkerRole = info.Config.Role
			return nil
		})
	}

	stop := make(chan struct{})
	l.pumpStops[port] = stop
	l.pumpWG.Add(1)
	go l.portPump(port, ch, stop)
}

func (l *Loop) abortStartWorker(port, errText string) {
	_ = l.reg.With(port, func(p *ports.Port) error {
		p.Release()
		return nil
	})
	l.banner(port, "worker start failed: "+errText)
}

func (l *Loop) stopWorker(port string) {
	if err := l.mgr.Stop(port); err != nil {
		l.banner(port, "worker stop failed: "+err.Error())
	}
	l.stopPump(port)
	_ = l.reg.With(port, func(p *ports.Port) error {
		p.Release()
		return nil
	})
}

func (l *Loop) stopPump(port string) {
	if stop, ok := l.pumpStops[port]; ok {
		close(stop)
		delete(l.pumpStops, port)
	}
}

func (l *Loop) stopAllPumps() {
	for port, stop := range l.pumpStops {
		close(stop)
		delete(l.pumpStops, port)
	}
	l.pumpWG.Wait()
}

// reapDead surfaces unexpected worker exits: the port goes back to Free
// and the UI gets a banner. Exit statuses appear exactly once.
func (l *Loop) reapDead() {
	for _, st := range l.mgr.ReapDead() {
		l.stopPump(st.Port)
		_ = l.reg.With(st.Port, func(p *ports.Port) error {
			p.Release()
			p.Log.Append("error", "worker exited unexpectedly")
			return nil
		})
		text := "worker exited"
		if st.Err != "" {
			text += ": " + st.Err
		}
		l.banner(st.Port, text)
	}
}

// ------------------------------------------------------------
// SCAN / TICK / STATUS
// ------------------------------------------------------------

func (l *Loop) rescan() {
	l.lastScan = time.Now()
	added, removed, err := l.reg.Scan()
	if err != nil {
		l.logger.Printf("runtime: port scan failed: %v", err)
		return
	}
	for _, port := range removed {
		l.sw.Remove(port)
	}
	if len(added)+len(removed) > 0 {
		if l.hooks.OnPortsChanged != nil {
			l.hooks.OnPortsChanged(added, removed)
		}
		l.applyPortDefaults(added)
	}
}

// applyPortDefaults seeds forms of newly-discovered ports from config.
func (l *Loop) applyPortDefaults(added []string) {
	for _, name := range added {
		pc := l.portConfig(name)
		_ = l.reg.With(name, func(p *ports.Port) error {
			p.Form.PollingEnabled = pc.Polling
			p.Form.Timeout = time.Duration(pc.TimeoutMs) * time.Millisecond
			for _, rc := range pc.Ranges {
				kind, err := registers.ParseKind(rc.Kind)
				if err != nil {
					continue
				}
				role := registers.Master
				if rc.Role == "slave" {
					role = registers.Slave
				}
				if err := p.Form.AddRange(&registers.Range{
					Station: rc.Station,
					Kind:    kind,
					Address: rc.Address,
					Length:  rc.Length,
					Role:    role,
				}); err != nil {
					l.logger.Printf("runtime: %s: range rejected: %v", name, err)
				}
			}
			return nil
		})
	}
}

// schedulerTick runs the polling scheduler over every port, then flushes
// the deferred logs: the focused port's entries go to the global log,
// background entries stay in their port's ring. One target per entry.
func (l *Loop) schedulerTick(now time.Time) {
	if l.paused {
		return
	}
	var buf scheduler.Buffer
	l.reg.Each(func(p *ports.Port) {
		if p.State != ports.OccupiedByThis || p.Channel == nil {
			return
		}
		if strings.HasPrefix(p.WorkerRole, "master-provide") {
			// The worker already drives the bus; values arrive as
			// StationsUpdate pushes, not poll responses.
			return
		}
		scheduler.TickPort(now, p.Name, p.Form, p.Channel, &buf)
	})
	for _, e := range buf.Drain() {
		if e.Port == l.focused {
			l.logger.Printf("[%s] %s: %s", e.Level, e.Port, e.Text)
			continue
		}
		_ = l.reg.With(e.Port, func(p *ports.Port) error {
			p.Log.Append(e.Level, e.Text)
			return nil
		})
	}
}

func (l *Loop) writeStatus() {
	for _, name := range l.reg.Names() {
		var snap status.Snapshot
		ok := l.reg.View(name, func(p *ports.Port) {
			snap = snapshotPort(p, l.mgr.Snapshot(name) != nil)
		})
		if !ok {
			continue
		}
		snap.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		if err := l.sw.Write(snap); err != nil {
			l.logger.Printf("runtime: %v", err)
		}
	}
}

func snapshotPort(p *ports.Port, hasWorker bool) status.Snapshot {
	snap := status.Snapshot{
		Port:           p.Name,
		PollingEnabled: p.Form.PollingEnabled,
		Health:         status.HealthUnknown,
		LogCounters:    make(map[string]uint64, len(p.Log.Counters)),
	}
	for k, v := range p.Log.Counters {
		snap.LogCounters[k] = v
	}
	if p.State == ports.OccupiedByThis {
		if hasWorker {
			snap.Health = status.HealthOK
		} else {
			snap.Health = status.HealthError
		}
	}
	for _, r := range p.Form.Ranges {
		snap.Stations = append(snap.Stations, status.StationInfo{
			Station: r.Station,
			Kind:    r.Kind.String(),
			Address: r.Address,
			Length:  r.Length,
			Role:    r.Role.String(),
		})
	}
	return snap
}
