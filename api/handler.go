// File: api/handler.go
// Package api defines Handler interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Handler turns one decoded request payload into the payload of its reply.
// The request slice aliases the connection's inbound buffer and is only valid
// for the duration of the call.
type Handler interface {
	Handle(payload []byte) []byte
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(payload []byte) []byte

// Handle calls fn(payload).
func (fn HandlerFunc) Handle(payload []byte) []byte { return fn(payload) }

// Echo replies with the request payload unchanged.
var Echo Handler = HandlerFunc(func(payload []byte) []byte { return payload })
