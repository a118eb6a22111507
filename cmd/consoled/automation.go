// cmd/consoled/automation.go
package main

import (
	"log"
	"strings"

	"github.com/celestia-island/aoba-sub003/internal/ipc"
	"github.com/celestia-island/aoba-sub003/internal/runtime"
)

// runAutomation attaches to a test driver's JSON-line side channel. The
// driver created both endpoints and is blocked waiting for us; commands
// arrive as tagged lines and are translated into runtime commands.
func runAutomation(base string, loop *runtime.Loop, logger *log.Logger) {
	in, out, err := ipc.DialStreams(base, ipc.DefaultConnectTimeout, ipc.DefaultRetryInterval)
	if err != nil {
		logger.Printf("automation: attach failed: %v", err)
		return
	}
	defer in.Close()
	defer out.Close()

	conn := ipc.NewLinePair(in, out)
	if err := conn.Send(ipc.Message{Type: ipc.TReady}); err != nil {
		logger.Printf("automation: ready send failed: %v", err)
		return
	}

	for {
		msg, err := conn.Recv()
		if err != nil {
			logger.Printf("automation: channel closed: %v", err)
			return
		}
		switch msg.Type {
		case ipc.TKeyPress:
			cmd, ok := keyCommand(msg.Key)
			if !ok {
				_ = conn.Send(ipc.Message{Type: ipc.TError, Text: "unknown key " + msg.Key})
				continue
			}
			if err := loop.Post(cmd); err != nil {
				_ = conn.Send(ipc.Message{Type: ipc.TError, Text: err.Error()})
			}

		case ipc.TCharInput:
			// Character input belongs to the UI layer; acknowledged and
			// dropped here.

		case ipc.TRequestScreen:
			_ = conn.Send(ipc.Message{Type: ipc.TScreenContent, Content: screenText(loop)})

		case ipc.TStateLockRequest:
			_ = loop.Post(runtime.Command{
				Kind:      runtime.CmdStateLock,
				Requester: msg.Requester,
				Locked:    msg.Locked,
			})
			_ = conn.Send(ipc.Message{
				Type:      ipc.TStateLockAck,
				Requester: msg.Requester,
				Locked:    msg.Locked,
			})
		}
	}
}

// keyCommand maps driver key names onto runtime commands. The real
// keymap lives in the UI layer; only loop-level actions are translated.
func keyCommand(key string) (runtime.Command, bool) {
	switch key {
	case "q":
		return runtime.Command{Kind: runtime.CmdQuit}, true
	case "r":
		return runtime.Command{Kind: runtime.CmdRescan}, true
	case "p":
		return runtime.Command{Kind: runtime.CmdPausePolling}, true
	case "P":
		return runtime.Command{Kind: runtime.CmdResumePolling}, true
	default:
		return runtime.Command{}, false
	}
}

func screenText(loop *runtime.Loop) string {
	var b strings.Builder
	for _, line := range loop.StatusLines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
