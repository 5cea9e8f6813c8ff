package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/crossing.report/internal/monitoring"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

func pcapPort(u *url.URL) (int, error) {
	port, err := queryInt(u, "port", 0)
	if err != nil {
		return 0, err
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// PCAPSource replays UDP detection datagrams from a capture file. Only
// datagrams to port are replayed; port 0 accepts every UDP datagram. When
// realtime is set, frames are paced by their capture timestamps.
type PCAPSource struct {
	f        *os.File
	packets  *gopacket.PacketSource
	port     layers.UDPPort
	realtime bool
	clock    timeutil.Clock

	seq      uint64
	skipped  uint64
	lastCapt time.Time
}

// OpenPCAP opens a pcap capture, accepting either classic pcap or pcapng.
func OpenPCAP(path string, port int, realtime bool, opts Options) (*PCAPSource, error) {
	if err := checkPath(path, opts.BaseDir); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Permanent(fmt.Errorf("failed to open PCAP file %s: %w", path, err))
		}
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}

	var (
		src      gopacket.PacketDataSource
		linkType layers.LinkType
	)
	if r, err := pcapgo.NewReader(bufio.NewReader(f)); err == nil {
		src, linkType = r, r.LinkType()
	} else {
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			f.Close()
			return nil, fmt.Errorf("rewind %s: %w", path, serr)
		}
		ng, ngErr := pcapgo.NewNgReader(bufio.NewReader(f), pcapgo.DefaultNgReaderOptions)
		if ngErr != nil {
			f.Close()
			return nil, Permanent(fmt.Errorf("%s is not a pcap or pcapng capture: %w", path, err))
		}
		src, linkType = ng, ng.LinkType()
	}

	ps := gopacket.NewPacketSource(src, linkType)
	ps.NoCopy = true
	monitoring.Logf("PCAP replay of %s (udp port %d, realtime=%v)", path, port, realtime)
	return &PCAPSource{
		f:        f,
		packets:  ps,
		port:     layers.UDPPort(port),
		realtime: realtime,
		clock:    opts.clock(),
	}, nil
}

// Next implements FrameSource. It returns io.EOF at the end of the capture.
func (s *PCAPSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		packet, err := s.packets.NextPacket()
		if err == io.EOF {
			monitoring.Logf("PCAP replay complete: %d frames, %d packets skipped", s.seq, s.skipped)
			return Frame{}, io.EOF
		}
		if err != nil {
			return Frame{}, Permanent(fmt.Errorf("read capture: %w", err))
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			s.skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 || (s.port != 0 && udp.DstPort != s.port) {
			s.skipped++
			continue
		}

		captured := packet.Metadata().Timestamp
		if s.realtime && !s.lastCapt.IsZero() {
			if gap := captured.Sub(s.lastCapt); gap > 0 {
				select {
				case <-ctx.Done():
					return Frame{}, ctx.Err()
				case <-s.clock.After(gap):
				}
			}
		}
		s.lastCapt = captured

		s.seq++
		return Frame{
			Seq:       s.seq,
			Timestamp: captured,
			Payload:   append([]byte(nil), udp.Payload...),
		}, nil
	}
}

// Close implements FrameSource.
func (s *PCAPSource) Close() error { return s.f.Close() }
