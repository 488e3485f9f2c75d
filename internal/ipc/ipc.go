// Package ipc wraps the nanomsg sockets used to talk to the gateway:
// a REQ socket for the one-shot registration handshake and a PAIR socket
// for the persistent duplex channel. Addresses use the scalability
// protocols URL scheme, typically ipc:///tmp/... on a gateway host.
package ipc

import (
	"errors"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pair"
	"go.nanomsg.org/mangos/v3/protocol/req"
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// Socket is the minimal surface the bridge needs. mangos.Socket satisfies
// it; tests substitute fakes.
type Socket interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Close() error
}

// DialReq connects a request/reply socket to the rendezvous address. Both
// directions carry the given deadline so a dead gateway cannot hang the
// handshake.
func DialReq(addr string, deadline time.Duration) (Socket, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create req socket: %w", err)
	}
	if deadline > 0 {
		_ = sock.SetOption(mangos.OptionRecvDeadline, deadline)
		_ = sock.SetOption(mangos.OptionSendDeadline, deadline)
	}
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return sock, nil
}

// DialPair connects the persistent duplex channel. recvDeadline paces the
// relay loop: an idle Recv returns a timeout error after at most one
// interval instead of blocking forever.
func DialPair(addr string, recvDeadline time.Duration) (Socket, error) {
	sock, err := pair.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create pair socket: %w", err)
	}
	if recvDeadline > 0 {
		_ = sock.SetOption(mangos.OptionRecvDeadline, recvDeadline)
	}
	if err := sock.Dial(addr); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return sock, nil
}

// IsTimeout reports whether err is a send/receive deadline expiry, i.e.
// "no data right now" rather than a transport failure.
func IsTimeout(err error) bool {
	return errors.Is(err, mangos.ErrRecvTimeout) || errors.Is(err, mangos.ErrSendTimeout)
}

// IsClosed reports whether err means the socket is unrecoverably closed.
func IsClosed(err error) bool {
	return errors.Is(err, mangos.ErrClosed)
}
