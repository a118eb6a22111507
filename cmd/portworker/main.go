// cmd/portworker/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/celestia-island/aoba-sub003/internal/datasource"
	"github.com/celestia-island/aoba-sub003/internal/ipc"
	"github.com/celestia-island/aoba-sub003/internal/registers"
)

const heartbeatEvery = time.Second

type options struct {
	role    string
	persist bool

	port    string
	baud    int
	station uint8

	kind    registers.Kind
	address uint16
	length  uint16

	source  *datasource.Source
	ipcBase string
}

func main() {
	role := flag.String("role", "", "Worker role: master-provide[-persist], slave-listen[-persist], slave-poll[-persist]")
	port := flag.String("port", "", "Serial device path")
	baud := flag.Int("baud", 9600, "Baud rate")
	station := flag.Int("station", 1, "Station id")
	regKind := flag.String("register-kind", "holding", "Register kind: coils, discrete_inputs, holding, input")
	regAddr := flag.Int("register-address", 0, "Register start address")
	regLen := flag.Int("register-length", 1, "Register count")
	dataSource := flag.String("data-source", "", "Data source URI (file:, pipe:, ipc:, mqtt://, python:external:)")
	ipcBase := flag.String("ipc", "", "IPC endpoint base of the listening front end")
	flag.Parse()

	logger := log.New(os.Stderr, "portworker: ", log.LstdFlags)

	opts, err := parseOptions(*role, *port, *baud, *station, *regKind, *regAddr, *regLen, *dataSource, *ipcBase)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	tr, err := ipc.Dial(opts.ipcBase, ipc.DefaultConnectTimeout, ipc.DefaultRetryInterval, 0)
	if err != nil {
		logger.Fatalf("front end not reachable: %v", err)
	}
	defer tr.Close()

	if err := run(opts, tr, logger); err != nil {
		_ = tr.Send(ipc.Message{Type: ipc.TPortError, Port: opts.port, Text: err.Error()})
		logger.Fatalf("%v", err)
	}
}

func parseOptions(role, port string, baud, station int, regKind string, regAddr, regLen int, dataSource, ipcBase string) (options, error) {
	opts := options{
		role:    role,
		port:    port,
		baud:    baud,
		station: uint8(station),
		address: uint16(regAddr),
		length:  uint16(regLen),
		ipcBase: ipcBase,
	}
	if strings.HasSuffix(role, "-persist") {
		opts.role = strings.TrimSuffix(role, "-persist")
		opts.persist = true
	}
	switch opts.role {
	case "master-provide", "slave-listen", "slave-poll":
	default:
		return options{}, errInvalidRole(role)
	}

	kind, err := registers.ParseKind(regKind)
	if err != nil {
		return options{}, err
	}
	opts.kind = kind

	if dataSource != "" {
		src, err := datasource.Parse(dataSource)
		if err != nil {
			return options{}, err
		}
		opts.source = &src
	}
	if ipcBase == "" {
		return options{}, errNoEndpoint
	}
	if port == "" {
		return options{}, errNoPort
	}
	return opts, nil
}

// run drives the selected role until shutdown. With -persist, a failed
// role loop reopens after a delay instead of exiting.
func run(opts options, tr *ipc.Transport, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Inbound commands from the front end.
	cmds := make(chan ipc.Message, 64)
	go func() {
		for {
			msg, err := tr.Recv()
			if err != nil {
				if ipc.IsTimeout(err) {
					continue
				}
				cancel()
				return
			}
			if msg.Type == ipc.TShutdown {
				cancel()
				return
			}
			select {
			case cmds <- msg:
			default:
			}
		}
	}()

	// Heartbeats.
	go func() {
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				_ = tr.Send(ipc.Message{Type: ipc.THeartbeat, Port: opts.port})
			}
		}
	}()

	for {
		var err error
		switch opts.role {
		case "master-provide":
			err = runMaster(ctx, opts, tr, cmds, logger)
		case "slave-listen", "slave-poll":
			err = runSlave(ctx, opts, tr, cmds, logger)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if !opts.persist {
			return err
		}
		logger.Printf("role loop failed, reopening: %v", err)
		_ = tr.Send(ipc.Message{Type: ipc.TLog, Port: opts.port, Level: "warn", Text: err.Error()})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}
	}
}
