package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/crossing.report/internal/monitoring"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

const (
	udpReadTimeout = 100 * time.Millisecond
	udpRcvBuf      = 1 << 20
	udpMaxDatagram = 64 * 1024
)

// UDPSource receives one JSON frame per datagram.
type UDPSource struct {
	conn  *net.UDPConn
	clock timeutil.Clock
	buf   []byte
	seq   uint64

	deadlineErrLogged bool
}

// OpenUDP listens on address.
func OpenUDP(address string, clock timeutil.Clock) (*UDPSource, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to resolve UDP address: %w", err))
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	if err := conn.SetReadBuffer(udpRcvBuf); err != nil {
		monitoring.Logf("Warning: failed to set UDP receive buffer size to %d: %v", udpRcvBuf, err)
	}
	return &UDPSource{conn: conn, clock: clock, buf: make([]byte, udpMaxDatagram)}, nil
}

// Addr returns the bound local address.
func (s *UDPSource) Addr() net.Addr { return s.conn.LocalAddr() }

// Next implements FrameSource. Reads use a short deadline so cancellation is
// observed between datagrams.
func (s *UDPSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(udpReadTimeout)); err != nil && !s.deadlineErrLogged {
			monitoring.Logf("failed to set read deadline: %v", err)
			s.deadlineErrLogged = true
		}
		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return Frame{}, Permanent(err)
			}
			return Frame{}, fmt.Errorf("UDP read: %w", err)
		}
		if n == 0 {
			continue
		}
		s.seq++
		return Frame{
			Seq:       s.seq,
			Timestamp: s.clock.Now(),
			Payload:   append([]byte(nil), s.buf[:n]...),
		}, nil
	}
}

// Close implements FrameSource.
func (s *UDPSource) Close() error { return s.conn.Close() }
