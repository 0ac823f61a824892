// Package handshake drives one lock or unlock exchange with a bolt:
//
//	client                         lock
//	challenge request (seq 1) ->
//	                          <-   ack (0x48, seq 1)
//	                          <-   challenge (0x40, cmd 0x86, tag 0xD2)
//	ack, action (seq 2)       ->
//	                          <-   ack (0x48, seq 2)
//	                          <-   confirmation (0x40, cmd 0x04)
//	ack                       ->
//
// The Machine advances only on notifications. Frames that do not fit the
// current stage are logged and counted, never fatal.
package handshake
