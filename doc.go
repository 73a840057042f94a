// Package statewire streams a live, mutable object graph of blocks and
// cells to remote observers over duplex channels and keeps a persisted
// snapshot of that graph in sync with its current state.
//
// The object model is in package 'state', the wire protocol in
// 'stream', persistence in 'persist', transports in 'sio', and a
// daemon plus a tap client in 'cmd'.
package statewire
