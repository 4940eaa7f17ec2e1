// File: server/listener.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking listening socket built directly on the socket syscalls.

package server

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listener owns the bound, listening descriptor.
type listener struct {
	fd   int
	addr *net.TCPAddr
}

// listen creates a non-blocking TCP socket with SO_REUSEADDR, binds host:port
// and starts listening. Any failure here is a startup error.
func listen(host string, port, backlog int) (*listener, error) {
	bindAddr := net.JoinHostPort(host, strconv.Itoa(port))
	ip, err := resolveHost(host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", bindAddr)
	}

	family, sa := unix.AF_INET, unix.Sockaddr(nil)
	if v4 := ip.To4(); v4 != nil {
		s4 := &unix.SockaddrInet4{Port: port}
		copy(s4.Addr[:], v4)
		sa = s4
	} else {
		family = unix.AF_INET6
		s6 := &unix.SockaddrInet6{Port: port}
		copy(s6.Addr[:], ip.To16())
		sa = s6
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errors.Wrap(err, "socket")
	}
	unix.CloseOnExec(fd)
	fail := func(err error, what string) (*listener, error) {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "%s %s", what, bindAddr)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail(err, "nonblock")
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail(err, "setsockopt")
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail(err, "bind")
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail(err, "listen")
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail(err, "getsockname")
	}
	return &listener{fd: fd, addr: tcpAddr(bound)}, nil
}

// accept takes exactly one pending connection and makes it non-blocking.
func (l *listener) accept() (int, string, error) {
	for {
		fd, sa, err := unix.Accept(l.fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, "", err
		}
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			return -1, "", err
		}
		peer := "unknown"
		if a := tcpAddr(sa); a != nil {
			peer = a.String()
		}
		return fd, peer, nil
	}
}

func (l *listener) close() error {
	return unix.Close(l.fd)
}

func resolveHost(host string) (net.IP, error) {
	if host == "" {
		return net.IPv4zero, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	a, err := net.ResolveIPAddr("ip", host)
	if err != nil {
		return nil, err
	}
	return a.IP, nil
}

func tcpAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]).To16(), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	}
	return nil
}
