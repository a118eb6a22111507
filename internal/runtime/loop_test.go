// internal/runtime/loop_test.go
package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/celestia-island/aoba-sub003/internal/config"
	"github.com/celestia-island/aoba-sub003/internal/ipc"
	"github.com/celestia-island/aoba-sub003/internal/modbusrtu"
	"github.com/celestia-island/aoba-sub003/internal/ports"
	"github.com/celestia-island/aoba-sub003/internal/registers"
	"github.com/celestia-island/aoba-sub003/internal/status"
	"github.com/celestia-island/aoba-sub003/internal/worker"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	sw, err := status.NewWriter(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.ConsoleConfig{
		TickIntervalMs: 10,
		ScanIntervalMs: 1000,
		WorkerBinary:   "portworker",
		IPC:            config.IPCConfig{Dir: t.TempDir()},
	}
	logger := log.New(io.Discard, "", 0)
	return NewLoop(cfg, ports.NewRegistry(time.Second), worker.NewManager(logger), sw, logger, Hooks{})
}

// seedPort registers an occupied port carrying one master holding range.
func seedPort(t *testing.T, l *Loop, name string) *ports.Port {
	t.Helper()
	p := l.reg.Add(name)
	if err := p.Occupy(); err != nil {
		t.Fatal(err)
	}
	p.Form.PollingEnabled = true
	if err := p.Form.AddRange(&registers.Range{
		Station: 1, Kind: registers.Holding, Address: 100, Length: 4, Role: registers.Master,
	}); err != nil {
		t.Fatal(err)
	}
	return p
}

// ---- commands ----

func TestApplyCommands(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	l.apply(Command{Kind: CmdPausePolling})
	if !l.paused {
		t.Fatal("pause not applied")
	}
	l.apply(Command{Kind: CmdResumePolling})
	if l.paused {
		t.Fatal("resume not applied")
	}

	l.apply(Command{Kind: CmdTogglePolling, Port: p.Name})
	if p.Form.PollingEnabled {
		t.Fatal("toggle did not disable polling")
	}

	l.apply(Command{Kind: CmdFocusPort, Port: p.Name})
	if l.focused != p.Name {
		t.Fatalf("focused = %q", l.focused)
	}

	l.apply(Command{Kind: CmdQuit})
	if !l.quit {
		t.Fatal("quit not applied")
	}
}

func TestStateLockOwnership(t *testing.T) {
	l := newTestLoop(t)

	l.apply(Command{Kind: CmdStateLock, Requester: "auto-1", Locked: true})
	if l.lockedBy != "auto-1" {
		t.Fatalf("lockedBy = %q", l.lockedBy)
	}

	// A different requester cannot release the lock.
	l.apply(Command{Kind: CmdStateLock, Requester: "auto-2", Locked: false})
	if l.lockedBy != "auto-1" {
		t.Fatalf("foreign unlock changed owner to %q", l.lockedBy)
	}

	l.apply(Command{Kind: CmdStateLock, Requester: "auto-1", Locked: false})
	if l.lockedBy != "" {
		t.Fatalf("lockedBy = %q after release", l.lockedBy)
	}
}

func TestPostQueueFull(t *testing.T) {
	l := newTestLoop(t)
	for i := 0; i < commandQueueDepth; i++ {
		if err := l.Post(Command{Kind: CmdRefresh}); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	if err := l.Post(Command{Kind: CmdRefresh}); err != ErrCommandQueueFull {
		t.Fatalf("err = %v, want ErrCommandQueueFull", err)
	}
}

// ---- worker launch ----

func TestStartWorkerDoesNotBlockLoop(t *testing.T) {
	l := newTestLoop(t)
	// A binary that never dials keeps the manager parked in its accept
	// wait. The loop must keep ticking while that happens.
	stall := filepath.Join(t.TempDir(), "stall.sh")
	if err := os.WriteFile(stall, []byte("#!/bin/sh\nsleep 5\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	l.cfg.WorkerBinary = stall
	l.cfg.IPC.ConnectTimeoutMs = 400
	p := l.reg.Add("/dev/ttyV0")

	begin := time.Now()
	l.apply(Command{Kind: CmdStartWorker, Port: p.Name})
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Fatalf("apply blocked for %v", elapsed)
	}
	if p.State != ports.OccupiedByThis {
		t.Fatalf("state right after launch = %v", p.State)
	}

	// The connect timeout fires off-loop and the failure comes back as a
	// command that releases the port.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		l.drainCommands()
		if p.State == ports.Free {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("port never released, state = %v", p.State)
}

// ---- scheduler integration ----

func TestSchedulerTickDispatchesFrame(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	l.schedulerTick(time.Now())

	select {
	case frame := <-p.Channel.Commands:
		req, err := modbusrtu.ParseReadRequest(frame)
		if err != nil {
			t.Fatal(err)
		}
		if req.Station != 1 || req.Function != 3 || req.Address != 100 || req.Quantity != 4 {
			t.Fatalf("req = %+v", req)
		}
	default:
		t.Fatal("no frame dispatched")
	}

	if p.Form.InFlightIndex == registers.NoInFlight {
		t.Fatal("in-flight not set")
	}
	if p.Log.Counters["info"] == 0 {
		t.Fatal("dispatch not logged to the port ring")
	}
}

func TestSchedulerSkipsMasterProvidePorts(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")
	p.WorkerRole = "master-provide"

	l.schedulerTick(time.Now())

	if len(p.Channel.Commands) != 0 {
		t.Fatal("frame dispatched on a port whose worker drives the bus")
	}
	if p.Form.InFlightIndex != registers.NoInFlight {
		t.Fatal("in-flight set without a dispatch")
	}
}

func TestSchedulerFocusedEntriesSkipRing(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")
	l.focused = p.Name

	l.schedulerTick(time.Now())

	if len(p.Channel.Commands) != 1 {
		t.Fatalf("frames dispatched = %d", len(p.Channel.Commands))
	}
	if p.Log.Counters["info"] != 0 {
		t.Fatal("focused entry also landed in the port ring")
	}
}

func TestSchedulerTickPausedDoesNothing(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")
	l.paused = true

	l.schedulerTick(time.Now())

	if len(p.Channel.Commands) != 0 {
		t.Fatal("paused loop dispatched a frame")
	}
}

// ---- response matching ----

func TestApplyResponseSettlesPending(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")
	r := p.Form.Ranges[0]
	r.Pending = &registers.PendingRequest{Function: 3, Address: 100, Quantity: 4, SentAt: time.Now()}
	p.Form.InFlightIndex = 0

	frame, err := modbusrtu.BuildReadResponse(1, 3, []uint16{11, 22, 33, 44})
	if err != nil {
		t.Fatal(err)
	}
	l.applyResponse(p.Name, frame)

	if r.Pending != nil {
		t.Fatal("pending not settled")
	}
	if p.Form.InFlightIndex != registers.NoInFlight {
		t.Fatal("in-flight not cleared")
	}
	if r.Values[0] != 11 || r.Values[3] != 44 {
		t.Fatalf("values = %v", r.Values)
	}
}

func TestApplyResponseExceptionSettlesWithoutValues(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")
	r := p.Form.Ranges[0]
	r.Pending = &registers.PendingRequest{Function: 3, Address: 100, Quantity: 4, SentAt: time.Now()}
	p.Form.InFlightIndex = 0

	l.applyResponse(p.Name, modbusrtu.BuildException(1, 3, 0x02))

	if r.Pending != nil {
		t.Fatal("exception left the request pending")
	}
	if p.Form.InFlightIndex != registers.NoInFlight {
		t.Fatal("in-flight not cleared")
	}
	if r.Responses != 0 {
		t.Fatal("exception counted as a response")
	}
	if p.Log.Counters["error"] == 0 {
		t.Fatal("exception not logged")
	}
}

func TestApplyResponseUnmatchedLogged(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	frame, err := modbusrtu.BuildReadResponse(9, 3, []uint16{1})
	if err != nil {
		t.Fatal(err)
	}
	l.applyResponse(p.Name, frame)

	if p.Log.Counters["warn"] == 0 {
		t.Fatal("unmatched frame not logged")
	}
}

// ---- IPC routing ----

func TestRouteStationsUpdate(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	payload, _ := json.Marshal([]uint16{7, 8, 9, 10})
	l.routeMessage(p.Name, ipc.Message{
		Type:     ipc.TStationsUpdate,
		Port:     p.Name,
		Station:  1,
		Kind:     "holding",
		Address:  100,
		Stations: payload,
	})

	r := p.Form.Ranges[0]
	if r.Values[0] != 7 || r.Values[3] != 10 {
		t.Fatalf("values = %v", r.Values)
	}
}

func TestRoutePortErrorBusyMarksForeignOccupancy(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	l.routeMessage(p.Name, ipc.Message{
		Type: ipc.TPortError,
		Port: p.Name,
		Text: "open /dev/ttyV0: device or resource busy",
	})

	if p.State != ports.OccupiedByOther {
		t.Fatalf("state = %v, want OccupiedByOther", p.State)
	}
	if err := p.Occupy(); !errors.Is(err, ports.ErrOccupied) {
		t.Fatalf("occupy err = %v, want ErrOccupied", err)
	}
}

func TestRoutePortErrorNonBusyReleases(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	l.routeMessage(p.Name, ipc.Message{
		Type: ipc.TPortError,
		Port: p.Name,
		Text: "read /dev/ttyV0: input/output error",
	})

	if p.State != ports.Free {
		t.Fatalf("state = %v, want Free", p.State)
	}
}

func TestRouteWorkerTrace(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	l.routeMessage(p.Name, ipc.Message{
		Type:      ipc.TModbusData,
		Port:      p.Name,
		Direction: ipc.DirSend,
		Raw:       []byte{0x01, 0x03},
		Success:   false,
	})

	if p.Log.Counters["warn"] == 0 {
		t.Fatal("failed worker tx not logged as warn")
	}
}

func TestRouteDataEventReachesChannel(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	raw := []byte{0x01, 0x03, 0x02, 0x00, 0x01}
	l.routeMessage(p.Name, ipc.Message{
		Type:      ipc.TModbusData,
		Port:      p.Name,
		Direction: ipc.DirRecv,
		Raw:       raw,
	})

	ev, ok := p.Channel.TryRecv()
	if !ok || ev.Kind != ports.EventData || len(ev.Data) != len(raw) {
		t.Fatalf("ev = %+v ok = %v", ev, ok)
	}
}

// ---- register edits ----

func TestUpdateRegisterStoresLocally(t *testing.T) {
	l := newTestLoop(t)
	p := l.reg.Add("/dev/ttyV0")
	if err := p.Form.AddRange(&registers.Range{
		Station: 2, Kind: registers.Coils, Address: 0, Length: 8, Role: registers.Slave,
	}); err != nil {
		t.Fatal(err)
	}

	// No worker is running; the local model still updates.
	l.updateRegister(Command{
		Kind:    CmdUpdateRegister,
		Port:    p.Name,
		Station: 2,
		RegKind: "coils",
		Address: 0,
		Values:  []uint16{1, 0, 1},
	})

	r := p.Form.Ranges[0]
	if r.Values[0] != 1 || r.Values[1] != 0 || r.Values[2] != 1 {
		t.Fatalf("values = %v", r.Values)
	}
}

// ---- status ----

func TestSnapshotPortHealth(t *testing.T) {
	l := newTestLoop(t)
	p := seedPort(t, l, "/dev/ttyV0")

	snap := snapshotPort(p, false)
	if snap.Health != status.HealthError {
		t.Fatalf("occupied without worker: health = %d", snap.Health)
	}
	snap = snapshotPort(p, true)
	if snap.Health != status.HealthOK {
		t.Fatalf("occupied with worker: health = %d", snap.Health)
	}
	if len(snap.Stations) != 1 || snap.Stations[0].Kind != "holding" {
		t.Fatalf("stations = %+v", snap.Stations)
	}

	free := l.reg.Add("/dev/ttyV1")
	snap = snapshotPort(free, false)
	if snap.Health != status.HealthUnknown {
		t.Fatalf("free port: health = %d", snap.Health)
	}
}

func TestStatusLines(t *testing.T) {
	l := newTestLoop(t)
	seedPort(t, l, "/dev/ttyV0")
	l.reg.Add("/dev/ttyV1")

	lines := l.StatusLines()
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if lines[0] != "/dev/ttyV0 state=occupied_by_this polling" {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if lines[1] != "/dev/ttyV1 state=free" {
		t.Fatalf("line 1 = %q", lines[1])
	}
}
