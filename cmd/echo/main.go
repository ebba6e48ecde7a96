// Command echo is the worked example from spec.md §6: a plaintext TCP
// echo server on 127.0.0.1:30000 with a 4096-byte read buffer and a
// backlog of 1024. It is an external collaborator, not part of the
// runtime's core (spec.md §1): it exists only to exercise Bind/Accept/
// Read/Write/Spawn end to end.
//
// Use `nc 127.0.0.1 30000` to connect.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/nonblock/asyncio"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:30000", "listen address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "echo: logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ex, err := asyncio.New(asyncio.WithLogger(logger))
	if err != nil {
		logger.Fatal("new executor", zap.Error(err))
	}
	defer ex.Close()

	if _, err := asyncio.BlockOn(ex, func() asyncio.Future[struct{}] {
		return newServeFuture(*addr, logger)
	}); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}

// serveFuture binds the listener on its first poll, then loops accepting
// connections forever, spawning one echoFuture task per connection. It is
// the root future handed to asyncio.BlockOn; it is hand-written as an
// explicit state machine because Go has no async fn to desugar one for us
// (see SPEC_FULL.md §4.4).
type serveFuture struct {
	addr   string
	logger *zap.Logger
	ln     *asyncio.Listener
	accept asyncio.Future[asyncio.AcceptResult]
}

func newServeFuture(addr string, logger *zap.Logger) *serveFuture {
	return &serveFuture{addr: addr, logger: logger}
}

func (f *serveFuture) Poll(w *asyncio.Waker) (struct{}, bool) {
	if f.ln == nil {
		ln, err := asyncio.Bind(f.addr)
		if err != nil {
			f.logger.Error("bind failed", zap.Error(err))
			return struct{}{}, true
		}
		f.ln = ln
		f.logger.Info("listening", zap.String("addr", f.addr))
	}

	for {
		if f.accept == nil {
			f.accept = f.ln.Accept()
		}
		res, ready := f.accept.Poll(w)
		if !ready {
			return struct{}{}, false
		}
		f.accept = nil

		if res.Err != nil {
			f.logger.Debug("accept error", zap.Error(res.Err))
			continue
		}

		f.logger.Info("accepted connection", zap.Stringer("remote", res.Addr))
		if err := asyncio.Spawn(newEchoFuture(res.Stream, f.logger)); err != nil {
			f.logger.Error("spawn failed", zap.Error(err))
			res.Stream.Close()
		}
	}
}

// echoFuture reads up to 4096 bytes and writes them back, looping until
// EOF or an error, handling short writes by resuming with the unwritten
// remainder (spec.md §8 scenario 3).
type echoFuture struct {
	stream *asyncio.Stream
	logger *zap.Logger

	buf      [4096]byte
	writing  bool
	writeBuf []byte

	read  asyncio.Future[asyncio.ReadResult]
	write asyncio.Future[asyncio.WriteResult]
}

func newEchoFuture(s *asyncio.Stream, logger *zap.Logger) *echoFuture {
	return &echoFuture{stream: s, logger: logger}
}

func (f *echoFuture) Poll(w *asyncio.Waker) (struct{}, bool) {
	for {
		if f.writing {
			if len(f.writeBuf) == 0 {
				f.writing = false
				continue
			}
			if f.write == nil {
				f.write = f.stream.Write(f.writeBuf)
			}
			res, ready := f.write.Poll(w)
			if !ready {
				return struct{}{}, false
			}
			f.write = nil
			if res.Err != nil {
				f.logger.Debug("write error", zap.Error(res.Err))
				f.stream.Close()
				return struct{}{}, true
			}
			f.writeBuf = f.writeBuf[res.N:]
			continue
		}

		if f.read == nil {
			f.read = f.stream.Read(f.buf[:])
		}
		res, ready := f.read.Poll(w)
		if !ready {
			return struct{}{}, false
		}
		f.read = nil
		if res.Err != nil {
			f.logger.Debug("read error", zap.Error(res.Err))
			f.stream.Close()
			return struct{}{}, true
		}
		if res.N == 0 {
			f.stream.Close()
			return struct{}{}, true
		}
		f.writeBuf = f.buf[:res.N]
		f.writing = true
	}
}
