/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipfix

import (
	"bytes"
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
)

var (
	// UDPPacketBufferSize bounds a single read from the UDP socket. yaf and
	// most Exporters keep well under the common 1500 byte MTU, but the
	// ceiling is the 16-bit IPFIX Message Length field, so size generously.
	UDPPacketBufferSize = 65535
)

var (
	UDPPacketsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipfix_udp_packets_total",
		Help: "Total number of packets received via the UDP collector",
	})
	UDPErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipfix_udp_errors_total",
		Help: "Total number of errors encountered in the UDP collector",
	})
)

// UDPCollector receives IPFIX Messages over UDP. Per RFC 7011 section
// 10.3.3, UDP is connectionless and unreliable: there is no Template
// retransmission scheduling here (a Non-goal), so a Collector that only
// ever sees Data Sets before their Template arrives will report
// KindMissingTemplate until the Exporter's next periodic Template
// retransmission, same as libfixbuf without its rexmit timer configured.
// One Session per source address is kept, since RFC 7011 binds template
// state to the (Exporter, Observation Domain) pair and UDP carries no
// connection to scope it by otherwise.
type UDPCollector struct {
	bindAddr string
	model    *InformationModel

	onMessage func(addr net.Addr, msg *DecodedMessage)

	conn  net.PacketConn
	bufs  map[string]*MessageBuffer
}

// NewUDPCollector creates a UDPCollector bound to bindAddr (host:port),
// resolving incoming Data Records' Information Elements against model.
func NewUDPCollector(bindAddr string, model *InformationModel) *UDPCollector {
	return &UDPCollector{
		bindAddr: bindAddr,
		model:    model,
		bufs:     make(map[string]*MessageBuffer),
	}
}

// OnMessage registers the callback invoked for every Message whose header
// decoded, including Messages in which some Sets failed to decode (those
// errors are logged first).
func (l *UDPCollector) OnMessage(fn func(addr net.Addr, msg *DecodedMessage)) {
	l.onMessage = fn
}

// Listen binds the UDP socket and reads packets until ctx is cancelled.
// Each datagram is expected to carry exactly one whole IPFIX Message, per
// RFC 7011 section 10.3.3.
func (l *UDPCollector) Listen(ctx context.Context) error {
	logger := FromContext(ctx)

	// SO_REUSEADDR/SO_REUSEPORT let several collector processes share one
	// bind, e.g. behind a kernel-level load balancer for a group-messaging
	// deployment.
	listenConfig := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
					return
				}
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	conn, err := listenConfig.ListenPacket(ctx, "udp", l.bindAddr)
	if err != nil {
		return newError("UDPCollector.Listen", KindConnection, err)
	}
	l.conn = conn
	defer l.conn.Close()

	go func() {
		buf := make([]byte, UDPPacketBufferSize)
		for {
			n, addr, err := l.conn.ReadFrom(buf)
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				UDPErrorsTotal.Inc()
				logger.Error(err, "failed to read from UDP socket")
				return
			}
			UDPPacketsTotal.Inc()

			packet := make([]byte, n)
			copy(packet, buf[:n])
			l.handle(ctx, addr, packet)
		}
	}()

	logger.Info("started UDP collector", "addr", l.bindAddr)
	<-ctx.Done()
	logger.Info("shutting down UDP collector", "addr", l.bindAddr)
	return nil
}

func (l *UDPCollector) handle(ctx context.Context, addr net.Addr, packet []byte) {
	logger := FromContext(ctx)
	mb := l.bufferFor(addr)

	msg, err := mb.NextMessage(bytes.NewReader(packet))
	if err != nil {
		if msg == nil {
			UDPErrorsTotal.Inc()
			logger.Error(err, "failed to decode IPFIX packet", "remote_addr", addr.String())
			return
		}
		if !errors.Is(err, ErrMissingTemplate) {
			UDPErrorsTotal.Inc()
			logger.Error(err, "errors while decoding IPFIX packet", "remote_addr", addr.String())
		}
	}
	if l.onMessage != nil {
		l.onMessage(addr, msg)
	}
}

// bufferFor returns the MessageBuffer tracking addr's Session, creating one
// on first sight of that source address.
func (l *UDPCollector) bufferFor(addr net.Addr) *MessageBuffer {
	key := addr.String()
	if mb, ok := l.bufs[key]; ok {
		return mb
	}
	mb := NewMessageBuffer(NewSession(l.model), DefaultMaxMessageSize)
	l.bufs[key] = mb
	return mb
}

// Addr returns the address the collector is bound to, or nil before Listen
// has been called.
func (l *UDPCollector) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// UDPExporter sends IPFIX Messages as individual UDP datagrams, one
// Message per Emit, matching RFC 7011 section 10.3.3.
type UDPExporter struct {
	conn net.Conn
	mb   *MessageBuffer
}

// DialUDPExporter connects to addr (host:port) and returns an Exporter
// whose MessageBuffer is driven by mb.
func DialUDPExporter(addr string, mb *MessageBuffer) (*UDPExporter, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, newError("DialUDPExporter", KindConnection, err)
	}
	return &UDPExporter{conn: conn, mb: mb}, nil
}

// Emit flushes the bound MessageBuffer's queued Templates and Data Records
// as a single UDP datagram.
func (e *UDPExporter) Emit() (int, error) {
	return e.mb.Emit(e.conn)
}

// Close closes the underlying UDP socket.
func (e *UDPExporter) Close() error {
	return e.conn.Close()
}
