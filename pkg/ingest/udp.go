package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"pulsegate/pkg/logging"
)

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// UDPIngestor accepts log lines over UDP, one or more per datagram.
type UDPIngestor struct {
	addr   string
	writer LogWriter
	log    *logrus.Entry
	conn   net.PacketConn
}

func NewUDPIngestor(addr string, w LogWriter, log logrus.FieldLogger) *UDPIngestor {
	return &UDPIngestor{
		addr:   addr,
		writer: w,
		log:    logging.Component(log, "ingest_udp"),
	}
}

func (u *UDPIngestor) Listen() error {
	conn, err := net.ListenPacket("udp", u.addr)
	if err != nil {
		return fmt.Errorf("udp listen %s: %w", u.addr, err)
	}
	u.conn = conn
	return nil
}

func (u *UDPIngestor) Addr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDPIngestor) Start(ctx context.Context) error {
	if err := u.Listen(); err != nil {
		return err
	}
	return u.Serve(ctx)
}

// Serve reads datagrams until ctx is cancelled.
func (u *UDPIngestor) Serve(ctx context.Context) error {
	u.log.WithField("addr", u.conn.LocalAddr().String()).Info("UDP ingest listening")
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	// The buffer is reused; ParseLine copies what it keeps.
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := u.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			u.log.WithError(err).Warn("Read failed")
			continue
		}
		for _, line := range bytes.Split(buf[:n], []byte{'\n'}) {
			if rec, ok := ParseLine(line); ok {
				u.writer.Write(ctx, rec)
			}
		}
	}
}
