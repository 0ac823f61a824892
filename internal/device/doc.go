// Package device defines the transport-neutral BLE client contract the lock
// coordinator runs on, together with the connection error taxonomy shared by
// every backend.
//
// A Client is a single GATT link. Characteristics are addressed by UUID only:
// the lock exposes one state characteristic and a UART style RX/TX pair, so
// service scoping is left to the backend.
package device
