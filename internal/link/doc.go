// Package link implements the push-to-talk session: a transmit loop that
// turns captured audio into datagrams while the talk gate is engaged, a
// receive loop that plays every inbound datagram as it arrives, and the
// [Controller] that owns both along with the socket and audio handles.
//
// The wire format is raw little-endian PCM with no header. Datagrams carry
// at most MaxPacketBytes of audio; loss, duplication and reordering are
// passed straight through to the speaker.
package link
