package rtpmidi

import (
	"encoding/binary"
	"errors"
)

// Session packet command pairs. Every session-management datagram
// begins with the two signature bytes below followed by one of these
// two-ASCII-byte commands.
const (
	sigByte0 = 0xFF
	sigByte1 = 0xFF
)

var (
	cmdIN = [2]byte{'I', 'N'}
	cmdOK = [2]byte{'O', 'K'}
	cmdNO = [2]byte{'N', 'O'}
	cmdBY = [2]byte{'B', 'Y'}
	cmdCK = [2]byte{'C', 'K'}
	cmdRS = [2]byte{'R', 'S'}
)

// ProtocolVersion is the only value this endpoint sends. It is sent on
// every invitation; the value received is not checked, for interop with
// peers that echo a different value.
const ProtocolVersion = 2

var errShortPacket = errors.New("rtpmidi: packet too short")

// invitationPacket is the wire shape shared by IN, OK and NO.
type invitationPacket struct {
	ProtocolVersion uint32
	InitiatorToken  uint32
	SSRC            uint32
	SessionName     string // optional, NUL-terminated on the wire
}

func encodeSessionHeader(buf []byte, cmd [2]byte) []byte {
	buf = append(buf, sigByte0, sigByte1, cmd[0], cmd[1])
	return buf
}

// encodeInvitation builds an IN, OK or NO packet.
func encodeInvitation(cmd [2]byte, pkt invitationPacket) []byte {
	buf := make([]byte, 0, 16+len(pkt.SessionName)+1)
	buf = encodeSessionHeader(buf, cmd)
	buf = binary.BigEndian.AppendUint32(buf, ProtocolVersion)
	buf = binary.BigEndian.AppendUint32(buf, pkt.InitiatorToken)
	buf = binary.BigEndian.AppendUint32(buf, pkt.SSRC)
	if pkt.SessionName != "" {
		buf = append(buf, pkt.SessionName...)
		buf = append(buf, 0x00)
	}
	return buf
}

func encodeIN(pkt invitationPacket) []byte { return encodeInvitation(cmdIN, pkt) }
func encodeOK(pkt invitationPacket) []byte { return encodeInvitation(cmdOK, pkt) }
func encodeNO(pkt invitationPacket) []byte { return encodeInvitation(cmdNO, pkt) }

func decodeInvitation(data []byte) (invitationPacket, error) {
	if len(data) < 16 {
		return invitationPacket{}, errShortPacket
	}
	pkt := invitationPacket{
		ProtocolVersion: binary.BigEndian.Uint32(data[4:8]),
		InitiatorToken:  binary.BigEndian.Uint32(data[8:12]),
		SSRC:            binary.BigEndian.Uint32(data[12:16]),
	}
	if len(data) > 16 {
		name := data[16:]
		if nul := indexByte(name, 0x00); nul >= 0 {
			name = name[:nul]
		}
		pkt.SessionName = string(name)
	}
	return pkt, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// byPacket is the BY teardown packet.
type byPacket struct {
	InitiatorToken uint32
	SSRC           uint32
}

func encodeBY(pkt byPacket) []byte {
	buf := make([]byte, 0, 16)
	buf = encodeSessionHeader(buf, cmdBY)
	buf = binary.BigEndian.AppendUint32(buf, ProtocolVersion)
	buf = binary.BigEndian.AppendUint32(buf, pkt.InitiatorToken)
	buf = binary.BigEndian.AppendUint32(buf, pkt.SSRC)
	return buf
}

func decodeBY(data []byte) (byPacket, error) {
	if len(data) < 16 {
		return byPacket{}, errShortPacket
	}
	return byPacket{
		InitiatorToken: binary.BigEndian.Uint32(data[8:12]),
		SSRC:           binary.BigEndian.Uint32(data[12:16]),
	}, nil
}

// clockPacket is the CK clock-sync packet. Count selects which leg of
// the 3-message exchange this is (0, 1 or 2); the timestamp halves not
// yet defined by that leg are sent as zero.
type clockPacket struct {
	SSRC  uint32
	Count uint8
	TS1H  uint32
	TS1L  uint32
	TS2H  uint32
	TS2L  uint32
	TS3H  uint32
	TS3L  uint32
}

func encodeCK(pkt clockPacket) []byte {
	buf := make([]byte, 0, 36)
	buf = encodeSessionHeader(buf, cmdCK)
	buf = binary.BigEndian.AppendUint32(buf, pkt.SSRC)
	buf = append(buf, pkt.Count, 0, 0, 0) // count + 3 reserved bytes
	buf = binary.BigEndian.AppendUint32(buf, pkt.TS1H)
	buf = binary.BigEndian.AppendUint32(buf, pkt.TS1L)
	buf = binary.BigEndian.AppendUint32(buf, pkt.TS2H)
	buf = binary.BigEndian.AppendUint32(buf, pkt.TS2L)
	buf = binary.BigEndian.AppendUint32(buf, pkt.TS3H)
	buf = binary.BigEndian.AppendUint32(buf, pkt.TS3L)
	return buf
}

func decodeCK(data []byte) (clockPacket, error) {
	if len(data) < 36 {
		return clockPacket{}, errShortPacket
	}
	return clockPacket{
		SSRC:  binary.BigEndian.Uint32(data[4:8]),
		Count: data[8],
		TS1H:  binary.BigEndian.Uint32(data[12:16]),
		TS1L:  binary.BigEndian.Uint32(data[16:20]),
		TS2H:  binary.BigEndian.Uint32(data[20:24]),
		TS2L:  binary.BigEndian.Uint32(data[24:28]),
		TS3H:  binary.BigEndian.Uint32(data[28:32]),
		TS3L:  binary.BigEndian.Uint32(data[32:36]),
	}, nil
}

// resyncPacket is the RS feedback packet.
type resyncPacket struct {
	SSRC    uint32
	LastSeq uint16
}

func encodeRS(pkt resyncPacket) []byte {
	buf := make([]byte, 0, 12)
	buf = encodeSessionHeader(buf, cmdRS)
	buf = binary.BigEndian.AppendUint32(buf, pkt.SSRC)
	buf = binary.BigEndian.AppendUint16(buf, pkt.LastSeq)
	buf = binary.BigEndian.AppendUint16(buf, 0) // reserved
	return buf
}

func decodeRS(data []byte) (resyncPacket, error) {
	if len(data) < 12 {
		return resyncPacket{}, errShortPacket
	}
	return resyncPacket{
		SSRC:    binary.BigEndian.Uint32(data[4:8]),
		LastSeq: binary.BigEndian.Uint16(data[8:10]),
	}, nil
}

// sessionCommand identifies the two-ASCII-byte command of a session
// packet, or ok=false if data isn't a session packet at all (wrong
// signature, or too short to carry one).
func sessionCommand(data []byte) (cmd [2]byte, ok bool) {
	if len(data) < 4 || data[0] != sigByte0 || data[1] != sigByte1 {
		return cmd, false
	}
	return [2]byte{data[2], data[3]}, true
}

// isRTPMIDI reports whether data opens with the RTP-MIDI signature bytes
// used by the data channel. Anything that is neither this signature nor
// a recognized session command is dropped.
func isRTPMIDI(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x80 && data[1] == 0x61
}
