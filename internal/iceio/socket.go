// Package iceio provides the concrete UDP collaborators SPEC_FULL.md §1
// names as external to the ice core: socket binding, the host event
// loop, and random-byte generation. Grounded in the teacher's
// internal/cli ListenUDPAndServe (SO_REUSEPORT binding) and
// internal/server's use of net.PacketConn.
package iceio

import (
	"net"

	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"

	"github.com/gortc/iceagentd/ice"
)

// UDPSocket wraps a net.PacketConn bound to one local address,
// satisfying ice.Socket.
type UDPSocket struct {
	conn  net.PacketConn
	local ice.Addr
}

// LocalAddr returns the address this socket is bound to.
func (s *UDPSocket) LocalAddr() ice.Addr { return s.local }

// Send writes b to dst.
func (s *UDPSocket) Send(dst ice.Addr, b []byte) (int, error) {
	return s.conn.WriteTo(b, dst.UDPAddr())
}

// Close releases the OS socket.
func (s *UDPSocket) Close() error { return s.conn.Close() }

// Conn exposes the underlying net.PacketConn, for the receive loop
// that calls ReadFrom directly (see Loop.readLoop in loop.go).
func (s *UDPSocket) Conn() net.PacketConn { return s.conn }

// UDPSocketFactory binds host candidate sockets via net.ListenPacket,
// preferring SO_REUSEPORT via github.com/libp2p/go-reuseport when
// available, exactly as the teacher's ListenUDPAndServe. Satisfies
// ice.SocketFactory.
type UDPSocketFactory struct {
	// ReusePort enables SO_REUSEPORT binding when the platform supports
	// it. Mirrors Options.ReusePort in the teacher's server package.
	ReusePort bool
}

// Bind opens a UDP socket on local (port 0 means "any free port").
func (f *UDPSocketFactory) Bind(local ice.Addr) (ice.Socket, error) {
	laddr := local.UDPAddr().String()

	var (
		conn net.PacketConn
		err  error
	)
	if f.ReusePort && reuseport.Available() {
		conn, err = reuseport.ListenPacket("udp", laddr)
		if err != nil {
			// Fall back to a plain bind, same resilience the teacher's
			// ListenUDPAndServe shows for a REUSEPORT bind failure.
			conn, err = net.ListenPacket("udp", laddr)
		}
	} else {
		conn, err = net.ListenPacket("udp", laddr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "iceio: bind %s", laddr)
	}

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = conn.Close()
		return nil, errors.New("iceio: bound socket has no UDP local address")
	}

	return &UDPSocket{
		conn:  conn,
		local: ice.Addr{IP: udpAddr.IP, Port: udpAddr.Port, Proto: ice.ProtoUDP},
	}, nil
}
