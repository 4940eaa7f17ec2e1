// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the length-prefixed wire framing spoken by hioload-echo peers.
//
// Every message on the byte stream is a 4-byte little-endian unsigned length
// followed by that many opaque payload bytes. There is no type or command
// byte. Both directions enforce the same maximum payload size so a frame one
// peer may send is exactly a frame the other accepts.
//
// Decoding is incremental: TryDecode inspects whatever bytes have arrived so
// far and reports ErrNeedMoreData until a whole frame is buffered, which lets
// callers assemble frames across partial reads and split pipelined ones.
package protocol
