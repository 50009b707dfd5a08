package asyncoro

import (
	"encoding/binary"
	"errors"
)

// frameHeaderLen is the fixed 8-byte header: uid (u32 BE) + length (u32 BE).
const frameHeaderLen = 8

// ReadMsg reads one framed message: [uid:u32 BE][length:u32 BE][payload].
// A short read on either section signals disconnection and returns
// (nil, nil) rather than an error, per spec §4.3/§7.
func (s *AsyncSocket) ReadMsg(y *Yield) (uint32, []byte, error) {
	header, err := s.Read(y, frameHeaderLen, false)
	if err != nil {
		if isDisconnect(err) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	if len(header) < frameHeaderLen {
		return 0, nil, nil
	}

	uid := binary.BigEndian.Uint32(header[0:4])
	length := binary.BigEndian.Uint32(header[4:8])
	if length == 0 {
		return 0, nil, ErrShortFrame
	}

	payload, err := s.Read(y, int(length), false)
	if err != nil {
		if isDisconnect(err) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	if len(payload) < int(length) {
		return 0, nil, nil
	}
	return uid, payload, nil
}

// WriteMsg writes the auth prefix (unless suppressed or absent), then the
// uid/length header, then payload, each as one Write call.
func (s *AsyncSocket) WriteMsg(y *Yield, uid uint32, payload []byte, suppressAuth bool) error {
	if len(s.authCode) > 0 && !suppressAuth {
		if err := s.Write(y, s.authCode); err != nil {
			return err
		}
	}

	header := make([]byte, frameHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], uid)
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	if err := s.Write(y, header); err != nil {
		return err
	}
	return s.Write(y, payload)
}

func isDisconnect(err error) bool {
	var de *DisconnectError
	return errors.As(err, &de)
}
