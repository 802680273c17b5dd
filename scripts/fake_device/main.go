// ===========================================================================
// scripts/fake_device: Stand-in for a serial sensor board
//
// Emits newline-delimited JSON readings the way the real device does,
// either to stdout (pipe into `sensorfeed --source stdin`) or to every
// client of a TCP listener (`sensorfeed --source tcp --tcp-addr ...`).
//
// Usage:
//   go run ./scripts/fake_device --rate 2 | go run ./cmd/server --source stdin --connect
//   go run ./scripts/fake_device --listen :4000 --noise 0.05 --split
// ===========================================================================
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vyuha/sensorfeed/internal/stream"
)

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

var (
	listen = pflag.String("listen", "", "Serve readings on this TCP address instead of stdout")
	rate   = pflag.Float64("rate", 1, "Readings per second")
	seed   = pflag.Int64("seed", 0, "Random seed (0 = time based)")
	count  = pflag.Int("count", 0, "Stop after this many readings (0 = run forever)")
	noise  = pflag.Float64("noise", 0, "Probability of emitting a garbage line instead of a reading")
	split  = pflag.Bool("split", false, "Write each line in random fragments, as a UART would")
)

var garbage = []string{
	"{\"temperature\":",    // truncated object
	"ERR sensor timeout",   // firmware debug print
	"[1,2,3]",              // valid JSON, wrong shape
	"\x00\x00\xff",         // line noise
	"{\"humidity\":45.2}}", // trailing junk
	"boot: v1.4.2 ready",   // startup banner
}

func main() {
	pflag.Parse()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *rate <= 0 {
		fmt.Fprintln(os.Stderr, "ERROR: --rate must be positive")
		os.Exit(1)
	}
	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lines := make(chan []byte)
	go produce(ctx, lines, s)

	if *listen == "" {
		w := &fragmentWriter{w: os.Stdout, rng: rand.New(rand.NewSource(s + 1)), split: *split}
		for line := range lines {
			if _, err := w.Write(line); err != nil {
				slog.Error("write failed", "error", err)
				return
			}
		}
		return
	}

	if err := serve(ctx, *listen, lines, s); err != nil {
		slog.Error("listener failed", "error", err)
		os.Exit(1)
	}
}

// produce sends one line per tick until ctx ends or --count is reached,
// then closes out.
func produce(ctx context.Context, out chan<- []byte, seed int64) {
	defer close(out)

	gen := stream.NewReadingGenerator(seed)
	rng := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer ticker.Stop()

	for n := 0; *count == 0 || n < *count; n++ {
		line := gen.Line()
		if *noise > 0 && rng.Float64() < *noise {
			line = []byte(garbage[rng.Intn(len(garbage))] + "\n")
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// ---------------------------------------------------------------------------
// TCP mode
// ---------------------------------------------------------------------------

// hub fans lines out to every connected client. Slow clients miss lines.
type hub struct {
	mu      sync.Mutex
	clients map[net.Conn]chan []byte
}

func serve(ctx context.Context, addr string, lines <-chan []byte, seed int64) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	slog.Info("fake device listening", "addr", ln.Addr().String())

	h := &hub{clients: make(map[net.Conn]chan []byte)}
	finished := make(chan struct{})
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go func() {
		for line := range lines {
			h.broadcast(line)
		}
		close(finished)
		h.closeAll()
		ln.Close()
	}()

	for i := int64(0); ; i++ {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-finished:
				return nil
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		ch := h.add(conn)
		slog.Info("client connected", "remote", conn.RemoteAddr().String())
		go func(conn net.Conn, ch chan []byte, rng *rand.Rand) {
			defer func() {
				h.remove(conn)
				conn.Close()
				slog.Info("client disconnected", "remote", conn.RemoteAddr().String())
			}()
			w := &fragmentWriter{w: conn, rng: rng, split: *split}
			for line := range ch {
				if _, err := w.Write(line); err != nil {
					return
				}
			}
		}(conn, ch, rand.New(rand.NewSource(seed+i)))
	}
}

func (h *hub) add(c net.Conn) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan []byte, 16)
	h.clients[c] = ch
	return ch
}

func (h *hub) remove(c net.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[c]; ok {
		close(ch)
		delete(h.clients, c)
	}
}

func (h *hub) broadcast(line []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- line:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, ch := range h.clients {
		close(ch)
		delete(h.clients, c)
	}
}

// ---------------------------------------------------------------------------
// fragmentWriter
// ---------------------------------------------------------------------------

// fragmentWriter optionally breaks each write into 1..8 byte pieces with a
// short pause between them, so readers see lines split across chunks.
type fragmentWriter struct {
	w     io.Writer
	rng   *rand.Rand
	split bool
}

func (f *fragmentWriter) Write(p []byte) (int, error) {
	if !f.split {
		return f.w.Write(p)
	}
	written := 0
	for written < len(p) {
		n := 1 + f.rng.Intn(8)
		if written+n > len(p) {
			n = len(p) - written
		}
		m, err := f.w.Write(p[written : written+n])
		written += m
		if err != nil {
			return written, err
		}
		time.Sleep(time.Duration(f.rng.Intn(3)) * time.Millisecond)
	}
	return written, nil
}
