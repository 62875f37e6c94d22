package netx

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// length-prefixed frames: [u32 len][payload]

const maxFrame = 10 * 1024 * 1024

func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrame {
		return fmt.Errorf("frame too large: %d", len(payload))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n > maxFrame {
		return nil, fmt.Errorf("frame too large: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// The first frame in each direction is a JSON hello.

func writeHello(w io.Writer, info PeerInfo) error {
	b, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return WriteFrame(w, b)
}

func readHello(r *bufio.Reader) (PeerInfo, error) {
	var info PeerInfo
	b, err := ReadFrame(r)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(b, &info); err != nil {
		return info, fmt.Errorf("bad hello: %w", err)
	}
	if info.ID == "" {
		return info, fmt.Errorf("bad hello: missing peer id")
	}
	return info, nil
}
