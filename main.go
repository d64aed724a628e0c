// ════════════════════════════════════════════════════════════════════════════════════════════════
// Command Pipeline Demo - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: GPU Command FIFO
// Component: Synthetic Producer & System Orchestration
//
// Description:
//   Drives one pipeline session with a synthetic command stream and reports its counters.
//   Configuration → Optional State Restore → Producer Frames → Optional State Save → Report
//
// Architecture:
//   - Phase 0: Flags, logging, JSONC configuration
//   - Phase 1: Session start; the consumer runs on its own goroutine in dual-context mode
//   - Phase 2: Synthetic frames of bursts, snapshots, readback requests and buffer swaps
//   - Phase 3: Save to a slot database and export, then print statistics as JSON
//
// Signals:
//   - SIGINT/SIGTERM stop the producer after the current frame
//   - SIGHUP reloads the configuration file into the running session
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/pflag"

	"gpufifo/config"
	"gpufifo/constants"
	"gpufifo/debug"
	"gpufifo/fifo"
	"gpufifo/mailbox"
	"gpufifo/savestate"
	"gpufifo/utils"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYNTHETIC COLLABORATORS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// synthDecoder charges two cycles per command byte and checks that the
// palette snapshot announced in each burst header is visible.
type synthDecoder struct {
	missing atomic.Uint64
}

func (d *synthDecoder) RunCommands(data []byte, snaps fifo.Snapshots) uint32 {
	if len(data) >= 4 {
		if key := binary.LittleEndian.Uint32(data); key != 0 {
			if _, ok := snaps.Lookup(key); !ok {
				d.missing.Add(1)
			}
		}
	}
	return uint32(2 * len(data))
}

// synthBackend stands in for the rendering backend: a tiny readback plane
// and a swap counter.
type synthBackend struct {
	plane [2][64]uint32
	swaps atomic.Uint64
}

func (b *synthBackend) FlushDrawing()     {}
func (b *synthBackend) RefreshPeekCache() {}

func (b *synthBackend) HandleRequest(req mailbox.Request) {
	switch r := req.(type) {
	case mailbox.Poke:
		b.plane[r.Target][int(r.X)%64] = r.Data
	case mailbox.Peek:
		*r.Data = b.plane[r.Target][int(r.X)%64]
	case mailbox.Swap:
		b.swaps.Add(1)
	case mailbox.SaveState:
		r.State.DoMarker("backend")
		for t := range b.plane {
			for i := range b.plane[t] {
				r.State.DoU32(&b.plane[t][i])
			}
		}
	}
}

func (b *synthBackend) HandlePokes(target mailbox.Target, pokes []mailbox.Poke) {
	for _, p := range pokes {
		b.plane[target][int(p.X)%64] = p.Data
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// MAIN ORCHESTRATION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

type flags struct {
	configPath string
	frames     int
	bursts     int
	single     bool
	dbPath     string
	slot       int
	load       bool
	exportPath string
	verbose    bool
}

func parseFlags() flags {
	var f flags
	pflag.StringVarP(&f.configPath, "config", "c", "", "JSONC options file (reloaded on SIGHUP)")
	pflag.IntVarP(&f.frames, "frames", "n", 120, "frames to produce")
	pflag.IntVar(&f.bursts, "bursts", 64, "command bursts per frame")
	pflag.BoolVar(&f.single, "single", false, "run without a consumer goroutine")
	pflag.StringVar(&f.dbPath, "db", "", "slot database for save states")
	pflag.IntVar(&f.slot, "slot", 1, "save state slot")
	pflag.BoolVar(&f.load, "load", false, "restore --slot from --db before producing")
	pflag.StringVar(&f.exportPath, "export", "", "also write the saved slot to this file")
	pflag.BoolVarP(&f.verbose, "verbose", "v", false, "log pipeline diagnostics to stderr")
	pflag.Parse()
	return f
}

func main() {
	// PHASE 0: Flags, logging and configuration
	f := parseFlags()
	if f.verbose {
		debug.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	opts := config.Default()
	if f.configPath != "" {
		var err error
		if opts, err = config.Load(f.configPath); err != nil {
			fatal("config", err)
		}
	}
	if f.single {
		opts.DualContext = false
	}
	store := config.NewStore(opts)

	// PHASE 1: Session start
	dec := &synthDecoder{}
	backend := &synthBackend{}
	s, err := fifo.New(opts, fifo.Deps{Decoder: dec, Renderer: backend, Handler: backend, Config: store})
	if err != nil {
		fatal("session", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel, store, f.configPath)

	var slots *savestate.Store
	if f.dbPath != "" {
		if slots, err = savestate.Open(f.dbPath); err != nil {
			fatal("slot database", err)
		}
		defer slots.Close()
		if f.verbose {
			listSlots(ctx, slots)
		}
		if f.load {
			if err := s.LoadSlot(ctx, slots, f.slot); err != nil {
				fatal("load slot "+utils.Itoa(f.slot), err)
			}
			debug.DropMessage("STATE", "restored slot "+utils.Itoa(f.slot))
		}
	}

	consumerDone := make(chan error, 1)
	if s.DualContext() {
		go func() { consumerDone <- s.Run(ctx) }()
	} else {
		close(consumerDone)
	}

	// PHASE 2: Producer frames
	produce(ctx, s, f.frames, f.bursts)

	// PHASE 3: Save, report
	if slots != nil {
		if err := s.SaveSlot(ctx, slots, f.slot); err != nil {
			fatal("save slot "+utils.Itoa(f.slot), err)
		}
		if f.exportPath != "" {
			if err := slots.Export(ctx, f.slot, f.exportPath); err != nil {
				fatal("export", err)
			}
		}
	}

	s.Stop()
	if err := <-consumerDone; err != nil && ctx.Err() == nil {
		fatal("consumer", err)
	}

	out, err := s.Stats().JSON()
	if err != nil {
		fatal("stats", err)
	}
	fmt.Println(string(out))
	if n := dec.missing.Load(); n != 0 {
		debug.DropError("DECODER", fmt.Errorf("%d bursts replayed without their snapshot", n))
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYNTHETIC PRODUCER
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// produce emits frames until done or ctx ends. Each frame writes bursts of
// commands, snapshots a palette every 16th burst, pokes and peeks the
// readback plane, then swaps.
func produce(ctx context.Context, s *fifo.Session, frames, bursts int) {
	burst := make([]byte, constants.BurstSize)
	palette := make([]byte, 256)

	for frame := 0; frame < frames && ctx.Err() == nil; frame++ {
		for i := 0; i < bursts; i++ {
			key := uint32(0)
			if i%16 == 0 {
				key = uint32(frame<<8 | i)
				palette[0] = byte(frame)
				if err := s.Snapshot(key, palette); err != nil {
					continue
				}
				s.RequireMailboxDrain()
			}
			binary.LittleEndian.PutUint32(burst, key)
			for j := 4; j < len(burst); j++ {
				burst[j] = byte(frame + i + j)
			}
			if err := s.Write(burst); err != nil {
				continue
			}
			s.FlushIfNecessary()
			if delay := s.SyncTick(constants.BurstSize * 2); delay < 0 {
				s.Kick()
			}
		}

		for x := uint16(0); x < 4; x++ {
			s.Submit(mailbox.Poke{Target: mailbox.Color, X: x, Data: uint32(frame)}, false)
		}
		var v uint32
		s.Flush()
		s.Submit(mailbox.Peek{Target: mailbox.Color, X: 3, Data: &v}, true)

		s.FlushOrdered()
		s.Submit(mailbox.Swap{FbWidth: 640, FbHeight: 528}, false)
		s.BumpFrame()
		if frame%30 == 0 {
			debug.DropMessage("FRAME", utils.Itoa(frame)+" peek="+utils.Itoa(int(v)))
		}
	}
	s.SyncForRegisterAccess()
	s.Barrier()
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SYSTEM LIFECYCLE MANAGEMENT
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// setupSignalHandling cancels ctx on SIGINT/SIGTERM and reloads the config
// file into store on SIGHUP.
func setupSignalHandling(cancel context.CancelFunc, store *config.Store, path string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				if path == "" {
					continue
				}
				if err := store.Reload(path); err != nil {
					debug.DropError("RELOAD", err)
					continue
				}
				debug.DropMessage("RELOAD", "options reloaded from "+path)
				continue
			}
			debug.DropMessage("SIGNAL", "Received interrupt, shutting down...")
			cancel()
			return
		}
	}()
}

// listSlots logs the occupied slots of the database.
func listSlots(ctx context.Context, slots *savestate.Store) {
	metas, err := slots.List(ctx)
	if err != nil {
		debug.DropError("SLOTS", err)
		return
	}
	for _, m := range metas {
		debug.DropMessage("SLOT", utils.Itoa(m.Slot)+": frame "+utils.Itoa(int(m.Frame))+", "+
			utils.Itoa(m.Size)+" bytes ("+utils.Itoa(m.Stored)+" stored)")
	}
}

func fatal(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}
