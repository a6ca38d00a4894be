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
	"context"
	"errors"
	"io"
	"net"

	"github.com/prometheus/client_golang/prometheus"
)

// TCPChannelBufferSize is the default depth of the channel a TCPCollector
// delivers decoded messages on.
var TCPChannelBufferSize = 10

var (
	TCPActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ipfix_tcp_active_connections",
		Help: "Total number of active connections currently maintained by the TCP collector",
	})
	TCPErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipfix_tcp_errors_total",
		Help: "Total number of errors encountered in the TCP collector",
	})
)

// TCPCollector accepts IPFIX Exporter connections over TCP. Per RFC 7011
// section 10.2.1, an entire TCP connection belongs to one Session: the
// Exporter may hold it open and send many Messages over its lifetime, so
// each accepted connection gets its own new Session bound to model and its
// own goroutine driving a MessageBuffer against it.
type TCPCollector struct {
	bindAddr string
	model    *InformationModel

	onMessage func(conn net.Conn, msg *DecodedMessage)

	listener *net.TCPListener
}

// NewTCPCollector creates a TCPCollector bound to bindAddr (host:port),
// resolving incoming Data Records' Information Elements against model.
func NewTCPCollector(bindAddr string, model *InformationModel) *TCPCollector {
	return &TCPCollector{bindAddr: bindAddr, model: model}
}

// OnMessage registers the callback invoked for every Message whose header
// decoded, including Messages in which some Sets failed to decode (those
// errors are logged first). fn must not block for long, since it runs on
// the connection's own read goroutine.
func (l *TCPCollector) OnMessage(fn func(conn net.Conn, msg *DecodedMessage)) {
	l.onMessage = fn
}

// Listen binds the TCP socket and accepts connections until ctx is
// cancelled, dispatching each to its own Session-backed reader goroutine.
func (l *TCPCollector) Listen(ctx context.Context) error {
	logger := FromContext(ctx)

	addr, err := net.ResolveTCPAddr("tcp", l.bindAddr)
	if err != nil {
		return newError("TCPCollector.Listen", KindConnection, err)
	}
	l.listener, err = net.ListenTCP("tcp", addr)
	if err != nil {
		return newError("TCPCollector.Listen", KindConnection, err)
	}
	defer l.listener.Close()

	go func() {
		for {
			conn, err := l.listener.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				TCPErrorsTotal.Inc()
				logger.Error(err, "failed to accept TCP connection", "addr", l.bindAddr)
				continue
			}
			TCPActiveConnections.Inc()
			go l.serve(ctx, conn)
		}
	}()

	logger.Info("started TCP collector", "addr", l.bindAddr)
	<-ctx.Done()
	logger.Info("shutting down TCP collector", "addr", l.bindAddr)
	return nil
}

func (l *TCPCollector) serve(ctx context.Context, conn net.Conn) {
	logger := FromContext(ctx)
	defer TCPActiveConnections.Dec()
	defer conn.Close()

	session := NewSession(l.model)
	mb := NewMessageBuffer(session, DefaultMaxMessageSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := mb.NextMessage(conn)
		if msg == nil {
			if err != nil && !errors.Is(err, io.EOF) {
				TCPErrorsTotal.Inc()
				logger.Error(err, "failed to decode IPFIX message header", "remote_addr", conn.RemoteAddr().String())
			} else {
				logger.V(1).Info("connection closed by remote", "remote_addr", conn.RemoteAddr().String())
			}
			return
		}
		if err != nil && !errors.Is(err, ErrMissingTemplate) {
			TCPErrorsTotal.Inc()
			logger.Error(err, "errors while decoding IPFIX message", "remote_addr", conn.RemoteAddr().String())
		}
		if l.onMessage != nil {
			l.onMessage(conn, msg)
		}
	}
}

// Addr returns the address the collector is bound to, or nil before Listen
// has been called.
func (l *TCPCollector) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// TCPExporter dials out to an IPFIX Collector and holds the connection open
// for the lifetime of the Exporter, matching the "single long-lived TCP
// connection" convention RFC 7011 assumes for reliable transports.
type TCPExporter struct {
	conn *net.TCPConn
	mb   *MessageBuffer
}

// DialTCPExporter connects to addr and returns an Exporter whose
// MessageBuffer is driven by mb (already bound to an appropriately
// configured Session).
func DialTCPExporter(addr string, mb *MessageBuffer) (*TCPExporter, error) {
	raddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, newError("DialTCPExporter", KindConnection, err)
	}
	conn, err := net.DialTCP("tcp", nil, raddr)
	if err != nil {
		return nil, newError("DialTCPExporter", KindConnection, err)
	}
	return &TCPExporter{conn: conn, mb: mb}, nil
}

// Emit flushes the bound MessageBuffer's queued Templates and Data Records
// over the connection.
func (e *TCPExporter) Emit() (int, error) {
	return e.mb.Emit(e.conn)
}

// Close closes the underlying TCP connection.
func (e *TCPExporter) Close() error {
	return e.conn.Close()
}
