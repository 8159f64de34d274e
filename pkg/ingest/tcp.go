package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/logging"
)

// TCPIngestor accepts newline-delimited log lines over TCP.
type TCPIngestor struct {
	addr     string
	writer   LogWriter
	log      *logrus.Entry
	listener net.Listener
	conns    sync.WaitGroup
}

func NewTCPIngestor(addr string, w LogWriter, log logrus.FieldLogger) *TCPIngestor {
	return &TCPIngestor{
		addr:   addr,
		writer: w,
		log:    logging.Component(log, "ingest_tcp"),
	}
}

// Listen binds the address. Serve must follow.
func (t *TCPIngestor) Listen() error {
	l, err := net.Listen("tcp", t.addr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", t.addr, err)
	}
	t.listener = l
	return nil
}

// Addr is the bound address, valid after Listen.
func (t *TCPIngestor) Addr() net.Addr {
	return t.listener.Addr()
}

// Start listens and serves until ctx is cancelled.
func (t *TCPIngestor) Start(ctx context.Context) error {
	if err := t.Listen(); err != nil {
		return err
	}
	return t.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled, then waits for open
// connections to finish.
func (t *TCPIngestor) Serve(ctx context.Context) error {
	t.log.WithField("addr", t.listener.Addr().String()).Info("TCP ingest listening")
	go func() {
		<-ctx.Done()
		t.listener.Close()
	}()
	defer t.conns.Wait()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.log.WithError(err).Warn("Accept failed")
			continue
		}
		t.conns.Add(1)
		go t.handleConnection(ctx, conn)
	}
}

func (t *TCPIngestor) handleConnection(ctx context.Context, conn net.Conn) {
	defer t.conns.Done()
	defer conn.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if rec, ok := ParseLine(sc.Bytes()); ok {
			t.writer.Write(ctx, rec)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		t.log.WithError(err).Debug("Connection read failed")
	}
}
