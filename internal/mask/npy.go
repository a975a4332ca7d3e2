package mask

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	npyMagic = []byte("\x93NUMPY")

	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([<>|=]?)([a-z])(\d+)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// ErrNpy reports an .npy payload this reader cannot handle.
var ErrNpy = errors.New("unsupported npy")

// DecodeNpy reads a 2D (or HxWx1) array of float16/32/64 or uint8 in C
// order. uint8 values are scaled into [0, 1].
func DecodeNpy(r io.Reader) (*Matte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < 10 || !bytes.Equal(data[:6], npyMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrNpy)
	}

	major := data[6]
	var headerLen, offset int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		offset = 10
	case 2, 3:
		if len(data) < 12 {
			return nil, fmt.Errorf("%w: truncated header", ErrNpy)
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12
	default:
		return nil, fmt.Errorf("%w: version %d", ErrNpy, major)
	}
	if offset+headerLen > len(data) {
		return nil, fmt.Errorf("%w: truncated header", ErrNpy)
	}
	header := string(data[offset : offset+headerLen])
	body := data[offset+headerLen:]

	d := descrRe.FindStringSubmatch(header)
	if d == nil {
		return nil, fmt.Errorf("%w: no descr in %q", ErrNpy, header)
	}
	if f := fortranRe.FindStringSubmatch(header); f != nil && f[1] == "True" {
		return nil, fmt.Errorf("%w: fortran order", ErrNpy)
	}
	height, width, err := parseShape(header)
	if err != nil {
		return nil, err
	}

	var order binary.ByteOrder = binary.LittleEndian
	if d[1] == ">" {
		order = binary.BigEndian
	}
	size, _ := strconv.Atoi(d[3])
	kind := d[2]

	n := width * height
	if len(body) < n*size {
		return nil, fmt.Errorf("%w: want %d bytes of data, have %d", ErrNpy, n*size, len(body))
	}

	m := New(width, height)
	switch {
	case kind == "f" && size == 4:
		for i := range m.Pix {
			m.Pix[i] = math.Float32frombits(order.Uint32(body[i*4:]))
		}
	case kind == "f" && size == 8:
		for i := range m.Pix {
			m.Pix[i] = float32(math.Float64frombits(order.Uint64(body[i*8:])))
		}
	case kind == "f" && size == 2:
		for i := range m.Pix {
			m.Pix[i] = halfToFloat(order.Uint16(body[i*2:]))
		}
	case kind == "u" && size == 1:
		for i := range m.Pix {
			m.Pix[i] = float32(body[i]) / 255
		}
	default:
		return nil, fmt.Errorf("%w: dtype %s%s", ErrNpy, kind, d[3])
	}
	return m, nil
}

func parseShape(header string) (int, int, error) {
	s := shapeRe.FindStringSubmatch(header)
	if s == nil {
		return 0, 0, fmt.Errorf("%w: no shape", ErrNpy)
	}
	var dims []int
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v <= 0 {
			return 0, 0, fmt.Errorf("%w: shape %q", ErrNpy, s[1])
		}
		dims = append(dims, v)
	}
	if len(dims) == 3 && dims[2] == 1 {
		dims = dims[:2]
	}
	if len(dims) != 2 {
		return 0, 0, fmt.Errorf("%w: shape %v is not 2D", ErrNpy, dims)
	}
	// Eight bytes is the widest element, so n*size below cannot overflow.
	if dims[1] > math.MaxInt/8/dims[0] {
		return 0, 0, fmt.Errorf("%w: shape %v too large", ErrNpy, dims)
	}
	return dims[0], dims[1], nil
}

// EncodeNpy writes m as a version 1.0 little-endian float32 array.
func EncodeNpy(w io.Writer, m *Matte) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", m.Height, m.Width)
	// Pad so the data starts on a 64 byte boundary, ending in a newline.
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := (64 - total%64) % 64; pad > 0 {
		header += strings.Repeat(" ", pad)
	}
	header += "\n"

	buf := bytes.NewBuffer(nil)
	buf.Write(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	for _, v := range m.Pix {
		binary.Write(buf, binary.LittleEndian, math.Float32bits(v))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal
		v := float32(frac) / 1024 * float32(math.Pow(2, -14))
		if sign != 0 {
			v = -v
		}
		return v
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}
