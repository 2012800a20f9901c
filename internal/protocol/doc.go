// Package protocol implements the coordinator/worker wire format: the 8-byte
// length-prefixed frames, the 4-byte class id used by static workers, the raw
// probe and availability messages, and the msgpack payloads carried inside them.
//
// Every message except the final detection reply has a known size or an
// explicit length prefix. The final reply is read until the sender closes the
// connection, unless both sides agree on framed replies.
package protocol
