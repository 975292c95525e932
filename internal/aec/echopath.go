package aec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	echoPathMagic   = "AECP"
	echoPathVersion = 1

	// magic, version, rate, bands, taps
	echoPathHeaderLen = 4 + 2 + 4 + 2 + 2
)

// EchoPath exports the adapted filter taps as a little-endian snapshot that
// SetEchoPath on an engine with the same sample rate accepts.
func (e *Engine) EchoPath() ([]byte, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	coef := e.bank.Coefficients()

	var buf bytes.Buffer
	buf.Grow(echoPathHeaderLen + 4*len(coef) + 4)
	buf.WriteString(echoPathMagic)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(echoPathVersion))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(e.rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(e.bank.Bands()))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(e.bank.Taps()))
	_ = binary.Write(&buf, binary.LittleEndian, coef)
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes(), nil
}

// SetEchoPath imports a snapshot produced by EchoPath. Only the filter taps
// are replaced; delay and suppression state keep adapting from where they
// are.
func (e *Engine) SetEchoPath(b []byte) error {
	if err := e.usable(); err != nil {
		return err
	}
	want := echoPathHeaderLen + 4*e.bank.Bands()*e.bank.Taps()*2 + 4
	if len(b) != want {
		return fmt.Errorf("snapshot is %d bytes, want %d: %w", len(b), want, ErrInvalidEchoPath)
	}
	body, sum := b[:len(b)-4], binary.LittleEndian.Uint32(b[len(b)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return fmt.Errorf("checksum mismatch: %w", ErrInvalidEchoPath)
	}
	if string(body[:4]) != echoPathMagic {
		return fmt.Errorf("bad magic %q: %w", body[:4], ErrInvalidEchoPath)
	}
	if v := binary.LittleEndian.Uint16(body[4:]); v != echoPathVersion {
		return fmt.Errorf("unsupported version %d: %w", v, ErrInvalidEchoPath)
	}
	if rate := binary.LittleEndian.Uint32(body[6:]); int(rate) != e.rate {
		return fmt.Errorf("snapshot is for %d Hz, engine runs at %d Hz: %w", rate, e.rate, ErrInvalidEchoPath)
	}
	bands := int(binary.LittleEndian.Uint16(body[10:]))
	taps := int(binary.LittleEndian.Uint16(body[12:]))
	if bands != e.bank.Bands() || taps != e.bank.Taps() {
		return fmt.Errorf("geometry %dx%d, want %dx%d: %w", bands, taps, e.bank.Bands(), e.bank.Taps(), ErrInvalidEchoPath)
	}

	coef := make([]int32, bands*taps*2)
	if err := binary.Read(bytes.NewReader(body[echoPathHeaderLen:]), binary.LittleEndian, coef); err != nil {
		return fmt.Errorf("read taps: %v: %w", err, ErrInvalidEchoPath)
	}
	if err := e.bank.SetCoefficients(coef); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidEchoPath)
	}
	return nil
}
