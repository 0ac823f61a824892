// Package lock coordinates one or more Wyze Lock Bolts over BLE.
//
// A Coordinator serializes everything that touches the link of one bolt.
// State polls read the encrypted state characteristic; Lock and Unlock run
// the challenge/action handshake over the UART characteristics:
//
//	poll:    connect -> read state -> decrypt -> cache -> notify listeners
//	command: connect -> subscribe RX + state -> handshake -> confirm or
//	         state notification -> read state -> release
//
// A command in flight never shares the link: concurrent polls get the
// cached state and concurrent commands fail with ErrBusy. Links are closed
// right after the work is done unless Options.IdleDisconnect keeps them
// for a while.
package lock
