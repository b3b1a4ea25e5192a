package docker

import (
	"encoding/binary"
	"io"
	"net/url"
	"strings"
)

// demuxFrames splits a Docker Engine API multiplexed stdout/stderr stream
// into its two constituent strings. Each frame is an 8-byte header
// (stream type, 3 reserved bytes, big-endian uint32 payload length)
// followed by the payload; stream type 1 is stdout, 2 is stderr.
func demuxFrames(r io.Reader) (stdout, stderr string, err error) {
	var outBuf, errBuf strings.Builder
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				break
			}
			return outBuf.String(), errBuf.String(), err
		}
		size := binary.BigEndian.Uint32(header[4:8])
		payload := make([]byte, size)
		if size > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return outBuf.String(), errBuf.String(), err
			}
		}
		switch header[0] {
		case 2:
			errBuf.Write(payload)
		default:
			outBuf.Write(payload)
		}
	}
	return outBuf.String(), errBuf.String(), nil
}

func urlEncode(s string) string {
	return url.QueryEscape(s)
}
