package probe

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/moutaamadani/mina-frontend-sub001/internal/domain"
)

func box(typ string, payload []byte) []byte {
	out := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(8+len(payload)))
	copy(out[4:8], typ)
	copy(out[8:], payload)
	return out
}

func mvhdV0(timescale, duration uint32) []byte {
	payload := make([]byte, 100)
	binary.BigEndian.PutUint32(payload[12:16], timescale)
	binary.BigEndian.PutUint32(payload[16:20], duration)
	return box("mvhd", payload)
}

func mvhdV1(timescale uint32, duration uint64) []byte {
	payload := make([]byte, 112)
	payload[0] = 1
	binary.BigEndian.PutUint32(payload[20:24], timescale)
	binary.BigEndian.PutUint64(payload[24:32], duration)
	return box("mvhd", payload)
}

func mp4File(mvhd []byte) []byte {
	out := box("ftyp", []byte("isom\x00\x00\x02\x00isomiso2"))
	return append(out, box("moov", mvhd)...)
}

func wavFile(byteRate, dataSize uint32) []byte {
	fmtChunk := make([]byte, 16)
	binary.LittleEndian.PutUint16(fmtChunk[0:2], 1)
	binary.LittleEndian.PutUint16(fmtChunk[2:4], 1)
	binary.LittleEndian.PutUint32(fmtChunk[4:8], byteRate)
	binary.LittleEndian.PutUint32(fmtChunk[8:12], byteRate)
	binary.LittleEndian.PutUint16(fmtChunk[12:14], 1)
	binary.LittleEndian.PutUint16(fmtChunk[14:16], 8)

	body := []byte("WAVE")
	body = append(body, "fmt "...)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(fmtChunk)))
	body = append(body, fmtChunk...)
	body = append(body, "data"...)
	body = binary.LittleEndian.AppendUint32(body, dataSize)
	body = append(body, make([]byte, dataSize)...)

	out := []byte("RIFF")
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func TestMP4DurationVersion0(t *testing.T) {
	data := mp4File(mvhdV0(1000, 5500))
	dur, err := DurationFromBytes(data, domain.MediaVideo)
	if err != nil {
		t.Fatalf("DurationFromBytes: %v", err)
	}
	if math.Abs(dur-5.5) > 0.001 {
		t.Fatalf("duration = %v, want 5.5", dur)
	}
}

func TestMP4DurationVersion1(t *testing.T) {
	data := mp4File(mvhdV1(90000, 90000*42))
	dur, err := DurationFromBytes(data, domain.MediaVideo)
	if err != nil {
		t.Fatalf("DurationFromBytes: %v", err)
	}
	if math.Abs(dur-42) > 0.001 {
		t.Fatalf("duration = %v, want 42", dur)
	}
}

func TestM4AAudioFallsBackToMP4Parsing(t *testing.T) {
	data := mp4File(mvhdV0(44100, 44100*7))
	dur, err := DurationFromBytes(data, domain.MediaAudio)
	if err != nil {
		t.Fatalf("DurationFromBytes: %v", err)
	}
	if math.Abs(dur-7) > 0.001 {
		t.Fatalf("duration = %v, want 7", dur)
	}
}

func TestWAVDuration(t *testing.T) {
	data := wavFile(1000, 2500)
	dur, err := DurationFromBytes(data, domain.MediaAudio)
	if err != nil {
		t.Fatalf("DurationFromBytes: %v", err)
	}
	if math.Abs(dur-2.5) > 0.001 {
		t.Fatalf("duration = %v, want 2.5", dur)
	}
}

func TestMP4DurationTrailingBoxExtendsToEOF(t *testing.T) {
	// A size field of zero marks the final box as running to end of file.
	moov := box("moov", mvhdV0(1000, 3250))
	binary.BigEndian.PutUint32(moov[0:4], 0)
	data := append(box("ftyp", []byte("isom\x00\x00\x02\x00isomiso2")), moov...)
	dur, err := DurationFromBytes(data, domain.MediaVideo)
	if err != nil {
		t.Fatalf("DurationFromBytes: %v", err)
	}
	if math.Abs(dur-3.25) > 0.001 {
		t.Fatalf("duration = %v, want 3.25", dur)
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	if _, err := DurationFromBytes([]byte("not a container at all"), domain.MediaVideo); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("video err = %v, want ErrUndecodable", err)
	}
	if _, err := DurationFromBytes([]byte{0, 1, 2, 3}, domain.MediaAudio); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("audio err = %v, want ErrUndecodable", err)
	}
}

func TestDurationZeroTimescaleRejected(t *testing.T) {
	data := mp4File(mvhdV0(0, 1000))
	if _, err := DurationFromBytes(data, domain.MediaVideo); !errors.Is(err, ErrUndecodable) {
		t.Fatalf("err = %v, want ErrUndecodable", err)
	}
}
