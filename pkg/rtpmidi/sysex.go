package rtpmidi

// FragmentSysEx splits one complete SysEx message (starting with 0xF0
// and ending with 0xF7) into a sequence of chunks no larger than
// maxFragment, each already framed with the wire's segment-pause/resume
// convention. The pause/resume framing only round-trips if each chunk
// lands in its own outbound datagram: encoder.nextPayload queues the
// returned chunks and drains one per emit call, and any other caller
// must pace chunks the same way rather than queuing them back to back.
//
// message must already be length-prefixed with nothing: just the raw
// 0xF0 ... 0xF7 bytes. A message that already fits in one fragment is
// returned as a single unmodified chunk.
func FragmentSysEx(message []byte, maxFragment int) [][]byte {
	if len(message) == 0 {
		return nil
	}
	if maxFragment < 3 {
		maxFragment = 3 // room for at least one payload byte plus both markers
	}
	if len(message) <= maxFragment {
		return [][]byte{message}
	}

	payload := message
	if payload[0] == 0xF0 {
		payload = payload[1:]
	}
	if len(payload) > 0 && payload[len(payload)-1] == 0xF7 {
		payload = payload[:len(payload)-1]
	}

	chunkCap := maxFragment - 2 // one marker byte at each end of every fragment
	var chunks [][]byte
	for len(payload) > 0 {
		n := len(payload)
		if n > chunkCap {
			n = chunkCap
		}
		chunks = append(chunks, payload[:n])
		payload = payload[n:]
	}

	out := make([][]byte, len(chunks))
	for i, c := range chunks {
		leading := byte(0xF7)
		if i == 0 {
			leading = 0xF0
		}
		trailing := byte(0xF0)
		if i == len(chunks)-1 {
			trailing = 0xF7
		}
		frag := make([]byte, 0, len(c)+2)
		frag = append(frag, leading)
		frag = append(frag, c...)
		frag = append(frag, trailing)
		out[i] = frag
	}
	return out
}
