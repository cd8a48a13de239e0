package volume

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"

	"oaiviewer/internal/models"
)

// NIfTI-1 datatype codes
const (
	niftiUint8   = 2
	niftiInt16   = 4
	niftiInt32   = 8
	niftiFloat32 = 16
	niftiFloat64 = 64
	niftiInt8    = 256
	niftiUint16  = 512
	niftiUint32  = 768
)

const niftiHeaderSize = 348

// MaxVoxels bounds the voxel count a NIfTI header may declare. The largest
// OAI acquisitions are well under 2^25 voxels.
const MaxVoxels = 1 << 28

// niftiHeader holds the NIfTI-1 header fields the reader needs
type niftiHeader struct {
	Dim       [8]int16
	Datatype  int16
	Bitpix    int16
	Pixdim    [8]float32
	VoxOffset float32
	SclSlope  float32
	SclInter  float32
	Magic     [4]byte
}

// LoadNIfTI decodes a single-file NIfTI-1 volume, gzip-compressed or not.
// The array keeps the file's (i, j, k) axis order and spacing is pixdim[1:4].
func LoadNIfTI(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	v, err := decodeNIfTI(f, info.Size())
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	v.Source = path
	return v, nil
}

// DecodeNIfTI reads a NIfTI-1 stream; gzip input is detected by its magic bytes
func DecodeNIfTI(r io.Reader) (*Volume, error) {
	return decodeNIfTI(r, -1)
}

// decodeNIfTI checks the declared voxel data against size, the length of an
// uncompressed input, when it is known (size >= 0)
func decodeNIfTI(r io.Reader, size int64) (*Volume, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer zr.Close()
		src = zr
		size = -1
	}

	raw := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	order, err := headerByteOrder(raw)
	if err != nil {
		return nil, err
	}
	hdr, err := parseNIfTIHeader(raw, order)
	if err != nil {
		return nil, err
	}

	ndim := int(hdr.Dim[0])
	if ndim < 3 {
		return nil, fmt.Errorf("expected a 3D volume, header has %d dimensions", ndim)
	}
	// only the first 3D frame of 4D+ data is read
	dims := [3]int{int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])}
	for _, d := range dims {
		if d < 1 {
			return nil, fmt.Errorf("invalid dimensions %v", dims)
		}
	}

	bytesPer, err := datatypeSize(hdr.Datatype)
	if err != nil {
		return nil, err
	}

	// skip extensions up to vox_offset
	offset := int64(hdr.VoxOffset)
	if offset < niftiHeaderSize {
		offset = niftiHeaderSize
	}
	if _, err := io.CopyN(io.Discard, src, offset-niftiHeaderSize); err != nil {
		return nil, fmt.Errorf("seeking to voxel data: %w", err)
	}

	// each dim is at most 32767, so the product fits in an int64
	n := int64(dims[0]) * int64(dims[1]) * int64(dims[2])
	if n > MaxVoxels {
		return nil, fmt.Errorf("header declares %v = %d voxels, more than the %d allowed", dims, n, MaxVoxels)
	}
	want := n * int64(bytesPer)
	if size >= 0 && offset+want > size {
		return nil, fmt.Errorf("header declares %d bytes of voxel data at offset %d, file has %d bytes", want, offset, size)
	}

	// the buffer grows with the data actually present, never to the declared size up front
	buf, err := io.ReadAll(io.LimitReader(src, want))
	if err != nil {
		return nil, fmt.Errorf("reading %d voxels: %w", n, err)
	}
	if int64(len(buf)) < want {
		return nil, fmt.Errorf("reading %d voxels: %w", n, io.ErrUnexpectedEOF)
	}

	spacing := [3]float64{
		spacingOrOne(hdr.Pixdim[1]),
		spacingOrOne(hdr.Pixdim[2]),
		spacingOrOne(hdr.Pixdim[3]),
	}
	v := New(dims[0], dims[1], dims[2], spacing, models.Packed)

	slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
	scale := slope != 0 && !math.IsNaN(slope) && !(slope == 1 && inter == 0)

	// file order has i fastest; Data is row-major with k fastest
	p := 0
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				val := decodeVoxel(buf[p:p+bytesPer], hdr.Datatype, order)
				if scale {
					val = val*slope + inter
				}
				v.Data[v.Index(i, j, k)] = val
				p += bytesPer
			}
		}
	}
	return v, nil
}

func headerByteOrder(raw []byte) (binary.ByteOrder, error) {
	if int32(binary.LittleEndian.Uint32(raw[0:4])) == niftiHeaderSize {
		return binary.LittleEndian, nil
	}
	if int32(binary.BigEndian.Uint32(raw[0:4])) == niftiHeaderSize {
		return binary.BigEndian, nil
	}
	if int32(binary.LittleEndian.Uint32(raw[0:4])) == 540 || int32(binary.BigEndian.Uint32(raw[0:4])) == 540 {
		return nil, errors.New("NIfTI-2 files are not supported")
	}
	return nil, errors.New("not a NIfTI-1 file")
}

func parseNIfTIHeader(raw []byte, order binary.ByteOrder) (*niftiHeader, error) {
	hdr := &niftiHeader{}
	r := bytes.NewReader(raw[40:])
	if err := binary.Read(r, order, &hdr.Dim); err != nil {
		return nil, err
	}

	// intent_p1..p3 and intent_code sit between dim and datatype
	hdr.Datatype = int16(order.Uint16(raw[70:72]))
	hdr.Bitpix = int16(order.Uint16(raw[72:74]))
	if err := binary.Read(bytes.NewReader(raw[76:108]), order, &hdr.Pixdim); err != nil {
		return nil, err
	}
	hdr.VoxOffset = math.Float32frombits(order.Uint32(raw[108:112]))
	hdr.SclSlope = math.Float32frombits(order.Uint32(raw[112:116]))
	hdr.SclInter = math.Float32frombits(order.Uint32(raw[116:120]))
	copy(hdr.Magic[:], raw[344:348])

	if m := string(hdr.Magic[:3]); m != "n+1" && m != "ni1" {
		return nil, fmt.Errorf("bad NIfTI magic %q", hdr.Magic[:3])
	}
	if string(hdr.Magic[:3]) == "ni1" {
		return nil, errors.New("detached .hdr/.img pairs are not supported")
	}
	return hdr, nil
}

func datatypeSize(dt int16) (int, error) {
	switch dt {
	case niftiUint8, niftiInt8:
		return 1, nil
	case niftiInt16, niftiUint16:
		return 2, nil
	case niftiInt32, niftiUint32, niftiFloat32:
		return 4, nil
	case niftiFloat64:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported NIfTI datatype %d", dt)
	}
}

func decodeVoxel(b []byte, dt int16, order binary.ByteOrder) float64 {
	switch dt {
	case niftiUint8:
		return float64(b[0])
	case niftiInt8:
		return float64(int8(b[0]))
	case niftiInt16:
		return float64(int16(order.Uint16(b)))
	case niftiUint16:
		return float64(order.Uint16(b))
	case niftiInt32:
		return float64(int32(order.Uint32(b)))
	case niftiUint32:
		return float64(order.Uint32(b))
	case niftiFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case niftiFloat64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

func spacingOrOne(p float32) float64 {
	if p <= 0 || math.IsNaN(float64(p)) {
		return 1
	}
	return float64(p)
}
