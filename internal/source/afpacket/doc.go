// Package afpacket implements the Linux AF_PACKET (TPACKET_V3) capture backend.
// On other platforms the package is empty and the backend is not registered.
package afpacket
