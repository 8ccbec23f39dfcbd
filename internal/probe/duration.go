package probe

import (
	"encoding/binary"
	"fmt"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
)

// DurationFromBytes reads the duration out of raw container bytes. MP4/MOV
// is covered via the moov/mvhd box, audio via the WAV header. It is used
// both against the local file before upload and against the stored URL
// after, so a transfer that corrupted the header is caught.
func DurationFromBytes(data []byte, media domain.MediaType) (float64, error) {
	switch media {
	case domain.MediaVideo:
		if dur, err := mp4Duration(data); err == nil {
			return dur, nil
		}
		return 0, fmt.Errorf("%w: unrecognized video container", ErrUndecodable)
	case domain.MediaAudio:
		if dur, err := wavDuration(data); err == nil {
			return dur, nil
		}
		// Audio tracks are often shipped in an MP4/M4A container.
		if dur, err := mp4Duration(data); err == nil {
			return dur, nil
		}
		return 0, fmt.Errorf("%w: unrecognized audio container", ErrUndecodable)
	default:
		return 0, fmt.Errorf("probe: no duration for media type %q", media)
	}
}

// mp4Duration walks top-level ISO-BMFF boxes for moov, then moov children
// for mvhd, and derives duration from timescale.
func mp4Duration(data []byte) (float64, error) {
	moov, err := findBox(data, "moov")
	if err != nil {
		return 0, err
	}
	mvhd, err := findBox(moov, "mvhd")
	if err != nil {
		return 0, err
	}
	if len(mvhd) < 4 {
		return 0, ErrUndecodable
	}
	version := mvhd[0]
	switch version {
	case 0:
		if len(mvhd) < 20 {
			return 0, ErrUndecodable
		}
		timescale := binary.BigEndian.Uint32(mvhd[12:16])
		duration := binary.BigEndian.Uint32(mvhd[16:20])
		if timescale == 0 {
			return 0, ErrUndecodable
		}
		return float64(duration) / float64(timescale), nil
	case 1:
		if len(mvhd) < 32 {
			return 0, ErrUndecodable
		}
		timescale := binary.BigEndian.Uint32(mvhd[20:24])
		duration := binary.BigEndian.Uint64(mvhd[24:32])
		if timescale == 0 {
			return 0, ErrUndecodable
		}
		return float64(duration) / float64(timescale), nil
	default:
		return 0, ErrUndecodable
	}
}

// findBox scans sibling boxes in data and returns the payload of the first
// box with the given type.
func findBox(data []byte, boxType string) ([]byte, error) {
	offset := 0
	for offset+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[offset : offset+4]))
		typ := string(data[offset+4 : offset+8])
		headerLen := 8
		switch size {
		case 1:
			// 64-bit largesize box.
			if offset+16 > len(data) {
				return nil, ErrUndecodable
			}
			size = int(binary.BigEndian.Uint64(data[offset+8 : offset+16]))
			headerLen = 16
		case 0:
			// Size zero means the box extends to end of file.
			size = len(data) - offset
		}
		if size < headerLen {
			return nil, ErrUndecodable
		}
		end := offset + size
		if end > len(data) {
			// Truncated download; the box header is still trustworthy
			// for the part we have.
			end = len(data)
		}
		if typ == boxType {
			return data[offset+headerLen : end], nil
		}
		offset += size
	}
	return nil, ErrUndecodable
}

// wavDuration derives duration from the fmt chunk's byte rate and the data
// chunk's size.
func wavDuration(data []byte) (float64, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, ErrUndecodable
	}
	var byteRate uint32
	var dataSize uint32
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8
		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return 0, ErrUndecodable
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			dataSize = chunkSize
		}
		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++
		}
	}
	if byteRate == 0 || dataSize == 0 {
		return 0, ErrUndecodable
	}
	return float64(dataSize) / float64(byteRate), nil
}
