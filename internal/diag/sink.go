// Package diag publishes IQ snapshots to a local visualiser over UDP. The
// wire format is interleaved float32 IQ with the first payload byte
// carrying the channel index; the receiving end relies on it byte-exact.
// Publishing is lossy monitoring: send errors are ignored.
package diag

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
)

// Loopback ports of the visualiser: one constellation feed and two
// per-channel spectrogram feeds.
var ports = [3]int{8888, 9999, 7777}

// Sink owns the diagnostic sockets. It is created by the pipeline root and
// handed to the stages that publish.
type Sink struct {
	conns [3]*net.UDPConn
}

// New connects the three loopback sockets.
func New() (*Sink, error) {
	s := &Sink{}
	for i, port := range ports {
		addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("diag: dialing port %d: %w", port, err)
		}
		s.conns[i] = conn
	}
	return s, nil
}

// Close releases the sockets.
func (s *Sink) Close() error {
	var first error
	for _, conn := range s.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send publishes a sample vector with the channel index stamped into the
// first payload byte, overwriting the first IQ sample's low byte.
func (s *Sink) Send(data []complex64, channel int) {
	payload := pack(data)
	if len(payload) == 0 {
		return
	}
	payload[0] = byte(channel)
	s.conns[0].Write(payload)
}

// Spectro publishes a spectrogram vector. The port is selected by channel
// and the first byte zeroed.
func (s *Sink) Spectro(data []complex64, channel int) {
	payload := pack(data)
	if len(payload) == 0 {
		return
	}
	payload[0] = 0

	conn := s.conns[1]
	if channel != 0 {
		conn = s.conns[2]
	}
	conn.Write(payload)
}

func pack(data []complex64) []byte {
	payload := make([]byte, 8*len(data))
	for i, c := range data {
		binary.LittleEndian.PutUint32(payload[8*i:], math.Float32bits(real(c)))
		binary.LittleEndian.PutUint32(payload[8*i+4:], math.Float32bits(imag(c)))
	}
	return payload
}
