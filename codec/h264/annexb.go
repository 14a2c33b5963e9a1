package h264

// startCode returns the length of an annex-B start code at pos, or 0.
func startCode(b []byte, pos int) int {
	if pos+3 <= len(b) && b[pos] == 0 && b[pos+1] == 0 && b[pos+2] == 1 {
		return 3 //nolint:mnd
	}
	if pos+4 <= len(b) && b[pos] == 0 && b[pos+1] == 0 && b[pos+2] == 0 && b[pos+3] == 1 {
		return 4 //nolint:mnd
	}
	return 0
}

// SplitAnnexB splits an annex-B byte stream into NAL units without start codes.
// Bytes before the first start code are ignored.
func SplitAnnexB(b []byte) [][]byte {
	var nalus [][]byte
	start := -1
	for pos := 0; pos < len(b); {
		n := startCode(b, pos)
		if n == 0 {
			pos++
			continue
		}
		if start >= 0 && pos > start {
			nalus = append(nalus, trimTrailingZeros(b[start:pos]))
		}
		pos += n
		start = pos
	}
	if start >= 0 && start < len(b) {
		nalus = append(nalus, b[start:])
	}
	return nalus
}

func trimTrailingZeros(nal []byte) []byte {
	for len(nal) > 0 && nal[len(nal)-1] == 0 {
		nal = nal[:len(nal)-1]
	}
	return nal
}

// NALType returns the nal_unit_type of a NAL unit.
func NALType(nal []byte) int {
	if len(nal) == 0 {
		return 0
	}
	return int(nal[0] & 0x1f) //nolint:mnd
}

// IsKeyFrame reports whether the access unit contains an IDR slice.
func IsKeyFrame(au []byte) bool {
	for _, nal := range SplitAnnexB(au) {
		if NALType(nal) == NaluCodedIDR {
			return true
		}
	}
	return false
}

// ParameterSets extracts SPS and PPS units from an encoder header.
func ParameterSets(header []byte) (sps, pps [][]byte) {
	for _, nal := range SplitAnnexB(header) {
		switch NALType(nal) {
		case NaluSPS:
			sps = append(sps, nal)
		case NaluPPS:
			pps = append(pps, nal)
		}
	}
	return sps, pps
}
