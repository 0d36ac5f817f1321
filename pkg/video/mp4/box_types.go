package mp4

import (
	"bytes"
	"fmt"

	"osdrender/pkg/video/mp4/bitio"
)

// Bodies of unknown and free boxes up to this size are kept in memory.
const maxRetainedBody = 1 << 20

func checkEntries(d *Decoder, h *Header, count uint32, entrySize int64) error {
	if int64(count)*entrySize > d.remaining(h) {
		return fmt.Errorf("%w: %s declares %d entries in %d bytes",
			ErrStreamFormat, h.Type, count, d.remaining(h))
	}
	return nil
}

func readRetainedBody(d *Decoder, h *Header) ([]byte, error) {
	n := d.remaining(h)
	if n > maxRetainedBody {
		return nil, d.Seek(h.End)
	}
	return d.ReadBytes(int(n))
}

/*************************** btrt ****************************/

// Btrt is ISOBMFF btrt box type.
type Btrt struct {
	BufferSizeDB uint32
	MaxBitrate   uint32
	AvgBitrate   uint32
}

// Type returns the BoxType.
func (*Btrt) Type() BoxType {
	return [4]byte{'b', 't', 'r', 't'}
}

// Unmarshal box from decoder.
func (b *Btrt) Unmarshal(d *Decoder, _ *Header) error {
	b.BufferSizeDB = d.TryReadUint32()
	b.MaxBitrate = d.TryReadUint32()
	b.AvgBitrate = d.TryReadUint32()
	return d.TryError
}

// Marshal box to writer.
func (b *Btrt) Marshal(w *bitio.Writer) error {
	w.TryWriteUint32(b.BufferSizeDB)
	w.TryWriteUint32(b.MaxBitrate)
	w.TryWriteUint32(b.AvgBitrate)
	return w.TryError
}

/*************************** co64 ****************************/

// Co64 is ISOBMFF co64 box type.
type Co64 struct {
	FullBox
	ChunkOffsets []uint64
}

// Type returns the BoxType.
func (*Co64) Type() BoxType {
	return [4]byte{'c', 'o', '6', '4'}
}

// Unmarshal box from decoder.
func (b *Co64) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	count := d.TryReadUint32()
	if err := checkEntries(d, h, count, 8); err != nil {
		return err
	}
	b.ChunkOffsets = make([]uint64, count)
	for i := range b.ChunkOffsets {
		b.ChunkOffsets[i] = d.TryReadUint64()
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Co64) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		w.TryWriteUint64(offset)
	}
	return w.TryError
}

/*************************** ctts ****************************/

// Ctts is ISOBMFF ctts box type.
type Ctts struct {
	FullBox
	Entries []CttsEntry
}

// CttsEntry .
type CttsEntry struct {
	SampleCount    uint32
	SampleOffsetV0 uint32
	SampleOffsetV1 int32
}

// Offset returns the composition offset for the box version.
func (b *Ctts) Offset(e CttsEntry) int64 {
	if b.FullBox.Version == 0 {
		return int64(e.SampleOffsetV0)
	}
	return int64(e.SampleOffsetV1)
}

// Type returns the BoxType.
func (*Ctts) Type() BoxType {
	return [4]byte{'c', 't', 't', 's'}
}

// Unmarshal box from decoder.
func (b *Ctts) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	if err := b.checkVersion(b.Type(), 1); err != nil {
		return err
	}
	count := d.TryReadUint32()
	if err := checkEntries(d, h, count, 8); err != nil {
		return err
	}
	b.Entries = make([]CttsEntry, count)
	for i := range b.Entries {
		b.Entries[i].SampleCount = d.TryReadUint32()
		if b.FullBox.Version == 0 {
			b.Entries[i].SampleOffsetV0 = d.TryReadUint32()
		} else {
			b.Entries[i].SampleOffsetV1 = int32(d.TryReadUint32())
		}
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Ctts) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		w.TryWriteUint32(entry.SampleCount)
		if b.FullBox.Version == 0 {
			w.TryWriteUint32(entry.SampleOffsetV0)
		} else {
			w.TryWriteUint32(uint32(entry.SampleOffsetV1))
		}
	}
	return w.TryError
}

/*************************** dinf ****************************/

// Dinf is ISOBMFF dinf box type.
type Dinf struct {
	Container
}

// Type returns the BoxType.
func (*Dinf) Type() BoxType {
	return [4]byte{'d', 'i', 'n', 'f'}
}

// Unmarshal box from decoder.
func (b *Dinf) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Dinf) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** dref ****************************/

// Dref is ISOBMFF dref box type.
type Dref struct {
	FullBox
	Container
}

// Type returns the BoxType.
func (*Dref) Type() BoxType {
	return [4]byte{'d', 'r', 'e', 'f'}
}

// Unmarshal box from decoder.
func (b *Dref) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	// The entry count is implied by the children.
	d.TryReadUint32()
	if d.TryError != nil {
		return d.TryError
	}
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Dref) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.All())))
	if w.TryError != nil {
		return w.TryError
	}
	return b.MarshalChildren(w)
}

/*************************** url ****************************/

// URL is ISOBMFF url box type.
type URL struct {
	FullBox
	Location string
}

// Type returns the BoxType.
func (*URL) Type() BoxType {
	return [4]byte{'u', 'r', 'l', ' '}
}

// URLSelfContained means the media data is in the same file.
const URLSelfContained = 0x000001

// Unmarshal box from decoder.
func (b *URL) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	if !b.FullBox.CheckFlag(URLSelfContained) {
		b.Location = d.TryReadCString(int(d.remaining(h)))
	}
	return d.TryError
}

// Marshal box to writer.
func (b *URL) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	if !b.FullBox.CheckFlag(URLSelfContained) {
		w.TryWriteCString(b.Location)
	}
	return w.TryError
}

/*************************** urn ****************************/

// URN is ISOBMFF urn box type.
type URN struct {
	FullBox
	Name     string
	Location string
}

// Type returns the BoxType.
func (*URN) Type() BoxType {
	return [4]byte{'u', 'r', 'n', ' '}
}

// Unmarshal box from decoder.
func (b *URN) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	if !b.FullBox.CheckFlag(URLSelfContained) {
		b.Name = d.TryReadCString(int(d.remaining(h)))
		b.Location = d.TryReadCString(int(d.remaining(h)))
	}
	return d.TryError
}

// Marshal box to writer.
func (b *URN) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	if !b.FullBox.CheckFlag(URLSelfContained) {
		w.TryWriteCString(b.Name)
		w.TryWriteCString(b.Location)
	}
	return w.TryError
}

/*************************** edts ****************************/

// Edts is ISOBMFF edts box type.
type Edts struct {
	Container
}

// Type returns the BoxType.
func (*Edts) Type() BoxType {
	return [4]byte{'e', 'd', 't', 's'}
}

// Unmarshal box from decoder.
func (b *Edts) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Edts) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** elst ****************************/

// Elst is ISOBMFF elst box type.
type Elst struct {
	FullBox
	Entries []ElstEntry
}

// ElstEntry .
type ElstEntry struct {
	SegmentDurationV0 uint32
	MediaTimeV0       int32
	SegmentDurationV1 uint64
	MediaTimeV1       int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Type returns the BoxType.
func (*Elst) Type() BoxType {
	return [4]byte{'e', 'l', 's', 't'}
}

// Unmarshal box from decoder.
func (b *Elst) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	if err := b.checkVersion(b.Type(), 1); err != nil {
		return err
	}
	count := d.TryReadUint32()
	entrySize := int64(12)
	if b.FullBox.Version == 1 {
		entrySize = 20
	}
	if err := checkEntries(d, h, count, entrySize); err != nil {
		return err
	}
	b.Entries = make([]ElstEntry, count)
	for i := range b.Entries {
		entry := &b.Entries[i]
		if b.FullBox.Version == 0 {
			entry.SegmentDurationV0 = d.TryReadUint32()
			entry.MediaTimeV0 = int32(d.TryReadUint32())
		} else {
			entry.SegmentDurationV1 = d.TryReadUint64()
			entry.MediaTimeV1 = int64(d.TryReadUint64())
		}
		entry.MediaRateInteger = int16(d.TryReadUint16())
		entry.MediaRateFraction = int16(d.TryReadUint16())
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Elst) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		if b.FullBox.Version == 0 {
			w.TryWriteUint32(entry.SegmentDurationV0)
			w.TryWriteUint32(uint32(entry.MediaTimeV0))
		} else {
			w.TryWriteUint64(entry.SegmentDurationV1)
			w.TryWriteUint64(uint64(entry.MediaTimeV1))
		}
		w.TryWriteUint16(uint16(entry.MediaRateInteger))
		w.TryWriteUint16(uint16(entry.MediaRateFraction))
	}
	return w.TryError
}

/*************************** free ****************************/

// Free is ISOBMFF free box type.
type Free struct {
	Data []byte
}

// Type returns the BoxType.
func (*Free) Type() BoxType {
	return [4]byte{'f', 'r', 'e', 'e'}
}

// Unmarshal box from decoder.
func (b *Free) Unmarshal(d *Decoder, h *Header) error {
	var err error
	b.Data, err = readRetainedBody(d, h)
	return err
}

// Marshal box to writer.
func (b *Free) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** ftyp ****************************/

// Ftyp is ISOBMFF ftyp box type.
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands []CompatibleBrandElem
}

// CompatibleBrandElem .
type CompatibleBrandElem struct {
	CompatibleBrand [4]byte
}

// Type returns the BoxType.
func (*Ftyp) Type() BoxType {
	return [4]byte{'f', 't', 'y', 'p'}
}

// Unmarshal box from decoder.
func (b *Ftyp) Unmarshal(d *Decoder, h *Header) error {
	d.TryRead(b.MajorBrand[:])
	b.MinorVersion = d.TryReadUint32()
	for d.TryError == nil && d.remaining(h) >= 4 {
		var brand CompatibleBrandElem
		d.TryRead(brand.CompatibleBrand[:])
		b.CompatibleBrands = append(b.CompatibleBrands, brand)
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Ftyp) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.MajorBrand[:])
	w.TryWriteUint32(b.MinorVersion)
	for _, brands := range b.CompatibleBrands {
		w.TryWrite(brands.CompatibleBrand[:])
	}
	return w.TryError
}

/*************************** hdlr ****************************/

// Hdlr is ISOBMFF hdlr box type.
type Hdlr struct {
	FullBox
	// Predefined corresponds to component_type of QuickTime.
	// pre_defined of ISO-14496 is always zero,
	// however component_type has "mhlr" or "dhlr".
	PreDefined  uint32
	HandlerType [4]byte
	Reserved    [3]uint32
	Name        string
}

// Type returns the BoxType.
func (*Hdlr) Type() BoxType {
	return [4]byte{'h', 'd', 'l', 'r'}
}

// Unmarshal box from decoder.
func (b *Hdlr) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	b.PreDefined = d.TryReadUint32()
	d.TryRead(b.HandlerType[:])
	for i := range b.Reserved {
		b.Reserved[i] = d.TryReadUint32()
	}
	if d.TryError != nil {
		return d.TryError
	}
	name := d.TryReadBytes(int(d.remaining(h)))
	b.Name = string(bytes.TrimRight(name, "\x00"))
	return d.TryError
}

// Marshal box to writer.
func (b *Hdlr) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(b.PreDefined)
	w.TryWrite(b.HandlerType[:])
	for _, reserved := range b.Reserved {
		w.TryWriteUint32(reserved)
	}
	w.TryWriteCString(b.Name)
	return w.TryError
}

/*************************** mdat ****************************/

// Mdat is ISOBMFF mdat box type.
// Decoding records the payload location without reading it.
type Mdat struct {
	Data []byte

	DataOffset int64
	DataSize   int64
}

// Type returns the BoxType.
func (*Mdat) Type() BoxType {
	return [4]byte{'m', 'd', 'a', 't'}
}

// Unmarshal box from decoder.
func (b *Mdat) Unmarshal(d *Decoder, h *Header) error {
	b.DataOffset = d.Pos()
	b.DataSize = d.remaining(h)
	return d.Seek(h.End)
}

// Marshal box to writer.
func (b *Mdat) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}

/*************************** mdhd ****************************/

// Mdhd is ISOBMFF mdhd box type.
type Mdhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64
	//
	Pad        bool    // 1 bit.
	Language   [3]byte // 5 bits each. ISO-639-2/T language code
	PreDefined uint16
}

// Duration returns the duration for the box version.
func (b *Mdhd) Duration() uint64 {
	if b.FullBox.Version == 0 {
		return uint64(b.DurationV0)
	}
	return b.DurationV1
}

// Type returns the BoxType.
func (*Mdhd) Type() BoxType {
	return [4]byte{'m', 'd', 'h', 'd'}
}

// Unmarshal box from decoder.
func (b *Mdhd) Unmarshal(d *Decoder, _ *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	if err := b.checkVersion(b.Type(), 1); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		b.CreationTimeV0 = d.TryReadUint32()
		b.ModificationTimeV0 = d.TryReadUint32()
	} else {
		b.CreationTimeV1 = d.TryReadUint64()
		b.ModificationTimeV1 = d.TryReadUint64()
	}
	b.Timescale = d.TryReadUint32()
	if b.FullBox.Version == 0 {
		b.DurationV0 = d.TryReadUint32()
	} else {
		b.DurationV1 = d.TryReadUint64()
	}
	lang := d.TryReadUint16()
	b.Pad = lang&0x8000 != 0
	b.Language[0] = byte(lang>>10&0x1f) + 0x60
	b.Language[1] = byte(lang>>5&0x1f) + 0x60
	b.Language[2] = byte(lang&0x1f) + 0x60
	b.PreDefined = d.TryReadUint16()
	return d.TryError
}

// Marshal box to writer.
func (b *Mdhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		w.TryWriteUint32(b.CreationTimeV0)
		w.TryWriteUint32(b.ModificationTimeV0)
	} else {
		w.TryWriteUint64(b.CreationTimeV1)
		w.TryWriteUint64(b.ModificationTimeV1)
	}
	w.TryWriteUint32(b.Timescale)
	if b.FullBox.Version == 0 {
		w.TryWriteUint32(b.DurationV0)
	} else {
		w.TryWriteUint64(b.DurationV1)
	}
	lang := uint16(b.Language[0]&0x1f)<<10 |
		uint16(b.Language[1]&0x1f)<<5 |
		uint16(b.Language[2]&0x1f)
	if b.Pad {
		lang |= 0x8000
	}
	w.TryWriteUint16(lang)
	w.TryWriteUint16(b.PreDefined)
	return w.TryError
}

/*************************** mdia ****************************/

// Mdia is ISOBMFF mdia box type.
type Mdia struct {
	Container
}

// Type returns the BoxType.
func (*Mdia) Type() BoxType {
	return [4]byte{'m', 'd', 'i', 'a'}
}

// Unmarshal box from decoder.
func (b *Mdia) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Mdia) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** minf ****************************/

// Minf is ISOBMFF minf box type.
type Minf struct {
	Container
}

// Type returns the BoxType.
func (*Minf) Type() BoxType {
	return [4]byte{'m', 'i', 'n', 'f'}
}

// Unmarshal box from decoder.
func (b *Minf) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Minf) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** moov ****************************/

// Moov is ISOBMFF moov box type.
type Moov struct {
	Container
}

// Type returns the BoxType.
func (*Moov) Type() BoxType {
	return [4]byte{'m', 'o', 'o', 'v'}
}

// Unmarshal box from decoder.
func (b *Moov) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Moov) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** mvhd ****************************/

// Mvhd is ISOBMFF mvhd box type.
type Mvhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64
	Rate               int32 // fixed-point 16.16 - template=0x00010000
	Volume             int16 // template=0x0100
	Reserved           int16
	Reserved2          [2]uint32
	Matrix             [9]int32 // template={ 0x00010000,0,0,0,0x00010000,0,0,0,0x40000000 }
	PreDefined         [6]int32
	NextTrackID        uint32
}

// Type returns the BoxType.
func (*Mvhd) Type() BoxType {
	return [4]byte{'m', 'v', 'h', 'd'}
}

// Unmarshal box from decoder.
func (b *Mvhd) Unmarshal(d *Decoder, _ *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	if err := b.checkVersion(b.Type(), 1); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		b.CreationTimeV0 = d.TryReadUint32()
		b.ModificationTimeV0 = d.TryReadUint32()
	} else {
		b.CreationTimeV1 = d.TryReadUint64()
		b.ModificationTimeV1 = d.TryReadUint64()
	}
	b.Timescale = d.TryReadUint32()
	if b.FullBox.Version == 0 {
		b.DurationV0 = d.TryReadUint32()
	} else {
		b.DurationV1 = d.TryReadUint64()
	}
	b.Rate = int32(d.TryReadUint32())
	b.Volume = int16(d.TryReadUint16())
	b.Reserved = int16(d.TryReadUint16())
	for i := range b.Reserved2 {
		b.Reserved2[i] = d.TryReadUint32()
	}
	for i := range b.Matrix {
		b.Matrix[i] = int32(d.TryReadUint32())
	}
	for i := range b.PreDefined {
		b.PreDefined[i] = int32(d.TryReadUint32())
	}
	b.NextTrackID = d.TryReadUint32()
	return d.TryError
}

// Marshal box to writer.
func (b *Mvhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		w.TryWriteUint32(b.CreationTimeV0)
		w.TryWriteUint32(b.ModificationTimeV0)
	} else {
		w.TryWriteUint64(b.CreationTimeV1)
		w.TryWriteUint64(b.ModificationTimeV1)
	}
	w.TryWriteUint32(b.Timescale)
	if b.FullBox.Version == 0 {
		w.TryWriteUint32(b.DurationV0)
	} else {
		w.TryWriteUint64(b.DurationV1)
	}
	w.TryWriteUint32(uint32(b.Rate))
	w.TryWriteUint16(uint16(b.Volume))
	w.TryWriteUint16(uint16(b.Reserved))
	for _, reserved := range b.Reserved2 {
		w.TryWriteUint32(reserved)
	}
	for _, matrix := range b.Matrix {
		w.TryWriteUint32(uint32(matrix))
	}
	for _, preDefined := range b.PreDefined {
		w.TryWriteUint32(uint32(preDefined))
	}
	w.TryWriteUint32(b.NextTrackID)
	return w.TryError
}

/*************************** pasp ****************************/

// Pasp is ISOBMFF pasp box type.
type Pasp struct {
	HSpacing uint32
	VSpacing uint32
}

// Type returns the BoxType.
func (*Pasp) Type() BoxType {
	return [4]byte{'p', 'a', 's', 'p'}
}

// Unmarshal box from decoder.
func (b *Pasp) Unmarshal(d *Decoder, _ *Header) error {
	b.HSpacing = d.TryReadUint32()
	b.VSpacing = d.TryReadUint32()
	return d.TryError
}

// Marshal box to writer.
func (b *Pasp) Marshal(w *bitio.Writer) error {
	w.TryWriteUint32(b.HSpacing)
	w.TryWriteUint32(b.VSpacing)
	return w.TryError
}

/*********************** SampleEntry *************************/

// SampleEntry .
type SampleEntry struct {
	Reserved           [6]uint8
	DataReferenceIndex uint16
}

// Marshal entry to buffer.
func (b *SampleEntry) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Reserved[:])
	w.TryWriteUint16(b.DataReferenceIndex)
	return w.TryError
}

// Unmarshal entry from decoder.
func (b *SampleEntry) Unmarshal(d *Decoder) error {
	d.TryRead(b.Reserved[:])
	b.DataReferenceIndex = d.TryReadUint16()
	return d.TryError
}

/*********************** avc1 *************************/

// Avc1 is ISOBMFF AVC sample entry box type.
type Avc1 struct {
	SampleEntry
	PreDefined      uint16
	Reserved        uint16
	PreDefined2     [3]uint32
	Width           uint16
	Height          uint16
	Horizresolution uint32
	Vertresolution  uint32
	Reserved2       uint32
	FrameCount      uint16
	Compressorname  [32]byte
	Depth           uint16
	PreDefined3     int16
	Container
}

// Type returns the BoxType.
func (*Avc1) Type() BoxType {
	return [4]byte{'a', 'v', 'c', '1'}
}

// Unmarshal box from decoder.
func (b *Avc1) Unmarshal(d *Decoder, h *Header) error {
	if err := b.SampleEntry.Unmarshal(d); err != nil {
		return err
	}
	b.PreDefined = d.TryReadUint16()
	b.Reserved = d.TryReadUint16()
	for i := range b.PreDefined2 {
		b.PreDefined2[i] = d.TryReadUint32()
	}
	b.Width = d.TryReadUint16()
	b.Height = d.TryReadUint16()
	b.Horizresolution = d.TryReadUint32()
	b.Vertresolution = d.TryReadUint32()
	b.Reserved2 = d.TryReadUint32()
	b.FrameCount = d.TryReadUint16()
	d.TryRead(b.Compressorname[:])
	b.Depth = d.TryReadUint16()
	b.PreDefined3 = int16(d.TryReadUint16())
	if d.TryError != nil {
		return d.TryError
	}
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Avc1) Marshal(w *bitio.Writer) error {
	if err := b.SampleEntry.Marshal(w); err != nil {
		return err
	}
	w.TryWriteUint16(b.PreDefined)
	w.TryWriteUint16(b.Reserved)
	for _, preDefined := range b.PreDefined2 {
		w.TryWriteUint32(preDefined)
	}
	w.TryWriteUint16(b.Width)
	w.TryWriteUint16(b.Height)
	w.TryWriteUint32(b.Horizresolution)
	w.TryWriteUint32(b.Vertresolution)
	w.TryWriteUint32(b.Reserved2)
	w.TryWriteUint16(b.FrameCount)
	w.TryWrite(b.Compressorname[:])
	w.TryWriteUint16(b.Depth)
	w.TryWriteUint16(uint16(b.PreDefined3))
	if w.TryError != nil {
		return w.TryError
	}
	return b.MarshalChildren(w)
}

// AvcC returns the codec configuration child.
func (b *Avc1) AvcC() *AvcC {
	avcC, _ := b.Child(StrToBoxType("avcC")).(*AvcC)
	return avcC
}

/**************** AVCDecoderConfiguration ****************.*/
const (
	AVCBaselineProfile uint8 = 66  // 0x42
	AVCMainProfile     uint8 = 77  // 0x4d
	AVCExtendedProfile uint8 = 88  // 0x58
	AVCHighProfile     uint8 = 100 // 0x64
	AVCHigh10Profile   uint8 = 110 // 0x6e
	AVCHigh422Profile  uint8 = 122 // 0x7a
	AVCHigh444Profile  uint8 = 144 // 0x90
)

// IsHighProfile reports whether avcC carries the high profile extension.
func IsHighProfile(profile uint8) bool {
	switch profile {
	case AVCHighProfile, AVCHigh10Profile, AVCHigh422Profile, AVCHigh444Profile:
		return true
	}
	return false
}

// AVCParameterSet .
type AVCParameterSet struct {
	NALUnit []byte
}

// MarshalField box to writer.
func (b *AVCParameterSet) MarshalField(w *bitio.Writer) error {
	w.TryWriteUint16(uint16(len(b.NALUnit)))
	w.TryWrite(b.NALUnit)
	return w.TryError
}

func unmarshalParameterSets(d *Decoder, count int) []AVCParameterSet {
	sets := make([]AVCParameterSet, 0, count)
	for i := 0; i < count && d.TryError == nil; i++ {
		size := d.TryReadUint16()
		sets = append(sets, AVCParameterSet{NALUnit: d.TryReadBytes(int(size))})
	}
	return sets
}

/*************************** avcC ****************************/

// AvcC is ISOBMFF AVC configuration box type.
type AvcC struct {
	ConfigurationVersion     uint8
	Profile                  uint8
	ProfileCompatibility     uint8
	Level                    uint8
	Reserved                 uint8 // 6 bits.
	LengthSizeMinusOne       uint8 // 2 bits.
	Reserved2                uint8 // 3 bits.
	SequenceParameterSets    []AVCParameterSet
	PictureParameterSets     []AVCParameterSet
	HighProfileFieldsEnabled bool
	Reserved3                uint8 // 6 bits.
	ChromaFormat             uint8 // 2 bits.
	Reserved4                uint8 // 5 bits.
	BitDepthLumaMinus8       uint8 // 3 bits.
	Reserved5                uint8 // 5 bits.
	BitDepthChromaMinus8     uint8 // 3 bits.
	SequenceParameterSetsExt []AVCParameterSet
}

// Type returns the BoxType.
func (*AvcC) Type() BoxType {
	return [4]byte{'a', 'v', 'c', 'C'}
}

// Unmarshal box from decoder.
func (b *AvcC) Unmarshal(d *Decoder, h *Header) error {
	b.ConfigurationVersion = d.TryReadUint8()
	b.Profile = d.TryReadUint8()
	b.ProfileCompatibility = d.TryReadUint8()
	b.Level = d.TryReadUint8()
	v := d.TryReadUint8()
	b.Reserved = v >> 2
	b.LengthSizeMinusOne = v & 0x3
	v = d.TryReadUint8()
	b.Reserved2 = v >> 5
	b.SequenceParameterSets = unmarshalParameterSets(d, int(v&0x1f))
	numPPS := d.TryReadUint8()
	b.PictureParameterSets = unmarshalParameterSets(d, int(numPPS))
	if d.TryError != nil {
		return d.TryError
	}

	// Older encoders omit the high profile fields.
	if !IsHighProfile(b.Profile) || d.remaining(h) < 4 {
		return nil
	}
	b.HighProfileFieldsEnabled = true
	v = d.TryReadUint8()
	b.Reserved3 = v >> 2
	b.ChromaFormat = v & 0x3
	v = d.TryReadUint8()
	b.Reserved4 = v >> 3
	b.BitDepthLumaMinus8 = v & 0x7
	v = d.TryReadUint8()
	b.Reserved5 = v >> 3
	b.BitDepthChromaMinus8 = v & 0x7
	numExt := d.TryReadUint8()
	b.SequenceParameterSetsExt = unmarshalParameterSets(d, int(numExt))
	return d.TryError
}

// Marshal box to writer.
func (b *AvcC) Marshal(w *bitio.Writer) error {
	if b.HighProfileFieldsEnabled && !IsHighProfile(b.Profile) {
		return fmt.Errorf("%w: avcC high profile fields with profile %d",
			ErrStreamFormat, b.Profile)
	}
	w.TryWriteByte(b.ConfigurationVersion)
	w.TryWriteByte(b.Profile)
	w.TryWriteByte(b.ProfileCompatibility)
	w.TryWriteByte(b.Level)
	w.TryWriteByte(b.Reserved<<2 | b.LengthSizeMinusOne&0x3)
	w.TryWriteByte(b.Reserved2<<5 | uint8(len(b.SequenceParameterSets))&0x1f)
	for _, sets := range b.SequenceParameterSets {
		if err := sets.MarshalField(w); err != nil {
			return err
		}
	}
	w.TryWriteByte(uint8(len(b.PictureParameterSets)))
	for _, sets := range b.PictureParameterSets {
		if err := sets.MarshalField(w); err != nil {
			return err
		}
	}
	if b.HighProfileFieldsEnabled {
		w.TryWriteByte(b.Reserved3<<2 | b.ChromaFormat&0x3)
		w.TryWriteByte(b.Reserved4<<3 | b.BitDepthLumaMinus8&0x7)
		w.TryWriteByte(b.Reserved5<<3 | b.BitDepthChromaMinus8&0x7)
		w.TryWriteByte(uint8(len(b.SequenceParameterSetsExt)))
		for _, sets := range b.SequenceParameterSetsExt {
			if err := sets.MarshalField(w); err != nil {
				return err
			}
		}
	}
	return w.TryError
}

/*************************** smhd ****************************/

// Smhd is ISOBMFF smhd box type.
type Smhd struct {
	FullBox
	Balance  int16 // fixed-point 8.8 template=0
	Reserved uint16
}

// Type returns the BoxType.
func (*Smhd) Type() BoxType {
	return [4]byte{'s', 'm', 'h', 'd'}
}

// Unmarshal box from decoder.
func (b *Smhd) Unmarshal(d *Decoder, _ *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	b.Balance = int16(d.TryReadUint16())
	b.Reserved = d.TryReadUint16()
	return d.TryError
}

// Marshal box to writer.
func (b *Smhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint16(uint16(b.Balance))
	w.TryWriteUint16(b.Reserved)
	return w.TryError
}

/*************************** stbl ****************************/

// Stbl is ISOBMFF stbl box type.
type Stbl struct {
	Container
}

// Type returns the BoxType.
func (*Stbl) Type() BoxType {
	return [4]byte{'s', 't', 'b', 'l'}
}

// Unmarshal box from decoder.
func (b *Stbl) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Stbl) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** stco ****************************/

// Stco is ISOBMFF stco box type.
type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

// Type returns the BoxType.
func (*Stco) Type() BoxType {
	return [4]byte{'s', 't', 'c', 'o'}
}

// Unmarshal box from decoder.
func (b *Stco) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	count := d.TryReadUint32()
	if err := checkEntries(d, h, count, 4); err != nil {
		return err
	}
	b.ChunkOffsets = make([]uint32, count)
	for i := range b.ChunkOffsets {
		b.ChunkOffsets[i] = d.TryReadUint32()
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Stco) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.ChunkOffsets)))
	for _, offset := range b.ChunkOffsets {
		w.TryWriteUint32(offset)
	}
	return w.TryError
}

/*************************** stsc ****************************/

// StscEntry .
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

// Stsc is ISOBMFF stsc box type.
type Stsc struct {
	FullBox
	Entries []StscEntry
}

// Type returns the BoxType.
func (*Stsc) Type() BoxType {
	return [4]byte{'s', 't', 's', 'c'}
}

// Unmarshal box from decoder.
func (b *Stsc) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	count := d.TryReadUint32()
	if err := checkEntries(d, h, count, 12); err != nil {
		return err
	}
	b.Entries = make([]StscEntry, count)
	for i := range b.Entries {
		b.Entries[i].FirstChunk = d.TryReadUint32()
		b.Entries[i].SamplesPerChunk = d.TryReadUint32()
		b.Entries[i].SampleDescriptionIndex = d.TryReadUint32()
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Stsc) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		w.TryWriteUint32(entry.FirstChunk)
		w.TryWriteUint32(entry.SamplesPerChunk)
		w.TryWriteUint32(entry.SampleDescriptionIndex)
	}
	return w.TryError
}

/*************************** stsd ****************************/

// Stsd is ISOBMFF stsd box type.
type Stsd struct {
	FullBox
	Container
}

// Type returns the BoxType.
func (*Stsd) Type() BoxType {
	return [4]byte{'s', 't', 's', 'd'}
}

// Unmarshal box from decoder.
func (b *Stsd) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	d.TryReadUint32()
	if d.TryError != nil {
		return d.TryError
	}
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Stsd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.All())))
	if w.TryError != nil {
		return w.TryError
	}
	return b.MarshalChildren(w)
}

/*************************** stss ****************************/

// Stss is ISOBMFF stss box type.
type Stss struct {
	FullBox
	SampleNumbers []uint32
}

// Type returns the BoxType.
func (*Stss) Type() BoxType {
	return [4]byte{'s', 't', 's', 's'}
}

// Unmarshal box from decoder.
func (b *Stss) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	count := d.TryReadUint32()
	if err := checkEntries(d, h, count, 4); err != nil {
		return err
	}
	b.SampleNumbers = make([]uint32, count)
	for i := range b.SampleNumbers {
		b.SampleNumbers[i] = d.TryReadUint32()
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Stss) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.SampleNumbers)))
	for _, number := range b.SampleNumbers {
		w.TryWriteUint32(number)
	}
	return w.TryError
}

/*************************** stsz ****************************/

// Stsz is ISOBMFF stsz box type.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

// Type returns the BoxType.
func (*Stsz) Type() BoxType {
	return [4]byte{'s', 't', 's', 'z'}
}

// Unmarshal box from decoder.
func (b *Stsz) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	b.SampleSize = d.TryReadUint32()
	b.SampleCount = d.TryReadUint32()
	if d.TryError != nil || b.SampleSize != 0 {
		return d.TryError
	}
	if err := checkEntries(d, h, b.SampleCount, 4); err != nil {
		return err
	}
	b.EntrySizes = make([]uint32, b.SampleCount)
	for i := range b.EntrySizes {
		b.EntrySizes[i] = d.TryReadUint32()
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Stsz) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(b.SampleSize)
	w.TryWriteUint32(b.SampleCount)
	if b.SampleSize == 0 {
		for _, entry := range b.EntrySizes {
			w.TryWriteUint32(entry)
		}
	}
	return w.TryError
}

/*************************** stts ****************************/

// Stts is ISOBMFF stts box type.
type Stts struct {
	FullBox
	Entries []SttsEntry
}

// SttsEntry .
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

// Type returns the BoxType.
func (*Stts) Type() BoxType {
	return [4]byte{'s', 't', 't', 's'}
}

// Unmarshal box from decoder.
func (b *Stts) Unmarshal(d *Decoder, h *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	count := d.TryReadUint32()
	if err := checkEntries(d, h, count, 8); err != nil {
		return err
	}
	b.Entries = make([]SttsEntry, count)
	for i := range b.Entries {
		b.Entries[i].SampleCount = d.TryReadUint32()
		b.Entries[i].SampleDelta = d.TryReadUint32()
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Stts) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint32(uint32(len(b.Entries)))
	for _, entry := range b.Entries {
		w.TryWriteUint32(entry.SampleCount)
		w.TryWriteUint32(entry.SampleDelta)
	}
	return w.TryError
}

/*************************** tkhd ****************************/

// Tkhd is ISOBMFF tkhd box type.
type Tkhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	TrackID            uint32
	Reserved0          uint32
	DurationV0         uint32
	DurationV1         uint64

	Reserved1      [2]uint32
	Layer          int16 // template=0
	AlternateGroup int16 // template=0
	Volume         int16 // template={if track_is_audio 0x0100 else 0}
	Reserved2      uint16
	Matrix         [9]int32 // template={ 0x00010000,0,0,0,0x00010000,0,0,0,0x40000000 };
	Width          uint32   // fixed-point 16.16
	Height         uint32   // fixed-point 16.16
}

// Type returns the BoxType.
func (*Tkhd) Type() BoxType {
	return [4]byte{'t', 'k', 'h', 'd'}
}

// Unmarshal box from decoder.
func (b *Tkhd) Unmarshal(d *Decoder, _ *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	if err := b.checkVersion(b.Type(), 1); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		b.CreationTimeV0 = d.TryReadUint32()
		b.ModificationTimeV0 = d.TryReadUint32()
	} else {
		b.CreationTimeV1 = d.TryReadUint64()
		b.ModificationTimeV1 = d.TryReadUint64()
	}
	b.TrackID = d.TryReadUint32()
	b.Reserved0 = d.TryReadUint32()
	if b.FullBox.Version == 0 {
		b.DurationV0 = d.TryReadUint32()
	} else {
		b.DurationV1 = d.TryReadUint64()
	}
	for i := range b.Reserved1 {
		b.Reserved1[i] = d.TryReadUint32()
	}
	b.Layer = int16(d.TryReadUint16())
	b.AlternateGroup = int16(d.TryReadUint16())
	b.Volume = int16(d.TryReadUint16())
	b.Reserved2 = d.TryReadUint16()
	for i := range b.Matrix {
		b.Matrix[i] = int32(d.TryReadUint32())
	}
	b.Width = d.TryReadUint32()
	b.Height = d.TryReadUint32()
	return d.TryError
}

// Marshal box to writer.
func (b *Tkhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	if b.FullBox.Version == 0 {
		w.TryWriteUint32(b.CreationTimeV0)
		w.TryWriteUint32(b.ModificationTimeV0)
	} else {
		w.TryWriteUint64(b.CreationTimeV1)
		w.TryWriteUint64(b.ModificationTimeV1)
	}
	w.TryWriteUint32(b.TrackID)
	w.TryWriteUint32(b.Reserved0)
	if b.FullBox.Version == 0 {
		w.TryWriteUint32(b.DurationV0)
	} else {
		w.TryWriteUint64(b.DurationV1)
	}
	for _, reserved := range b.Reserved1 {
		w.TryWriteUint32(reserved)
	}
	w.TryWriteUint16(uint16(b.Layer))
	w.TryWriteUint16(uint16(b.AlternateGroup))
	w.TryWriteUint16(uint16(b.Volume))
	w.TryWriteUint16(b.Reserved2)
	for _, matrix := range b.Matrix {
		w.TryWriteUint32(uint32(matrix))
	}
	w.TryWriteUint32(b.Width)
	w.TryWriteUint32(b.Height)
	return w.TryError
}

/*************************** trak ****************************/

// Trak is ISOBMFF trak box type.
type Trak struct {
	Container
}

// Type returns the BoxType.
func (*Trak) Type() BoxType {
	return [4]byte{'t', 'r', 'a', 'k'}
}

// Unmarshal box from decoder.
func (b *Trak) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Trak) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** udta ****************************/

// Udta is ISOBMFF udta box type.
type Udta struct {
	Container
}

// Type returns the BoxType.
func (*Udta) Type() BoxType {
	return [4]byte{'u', 'd', 't', 'a'}
}

// Unmarshal box from decoder.
func (b *Udta) Unmarshal(d *Decoder, h *Header) error {
	return d.DecodeChildren(&b.Container, h)
}

// Marshal box to writer.
func (b *Udta) Marshal(w *bitio.Writer) error {
	return b.MarshalChildren(w)
}

/*************************** vmhd ****************************/

// Vmhd is ISOBMFF vmhd box type.
type Vmhd struct {
	FullBox
	Graphicsmode uint16    // template=0
	Opcolor      [3]uint16 // template={0, 0, 0}
}

// Type returns the BoxType.
func (*Vmhd) Type() BoxType {
	return [4]byte{'v', 'm', 'h', 'd'}
}

// Unmarshal box from decoder.
func (b *Vmhd) Unmarshal(d *Decoder, _ *Header) error {
	if err := b.FullBox.UnmarshalField(d); err != nil {
		return err
	}
	b.Graphicsmode = d.TryReadUint16()
	for i := range b.Opcolor {
		b.Opcolor[i] = d.TryReadUint16()
	}
	return d.TryError
}

// Marshal box to writer.
func (b *Vmhd) Marshal(w *bitio.Writer) error {
	if err := b.FullBox.MarshalField(w); err != nil {
		return err
	}
	w.TryWriteUint16(b.Graphicsmode)
	for _, color := range b.Opcolor {
		w.TryWriteUint16(color)
	}
	return w.TryError
}

/************************* unknown **************************/

// Unknown is a box without a registered implementation.
// Bodies larger than 1 MiB are skipped and not retained.
type Unknown struct {
	BoxType BoxType
	Data    []byte
}

// Type returns the BoxType.
func (b *Unknown) Type() BoxType {
	return b.BoxType
}

// Unmarshal box from decoder.
func (b *Unknown) Unmarshal(d *Decoder, h *Header) error {
	var err error
	b.Data, err = readRetainedBody(d, h)
	return err
}

// Marshal box to writer.
func (b *Unknown) Marshal(w *bitio.Writer) error {
	w.TryWrite(b.Data)
	return w.TryError
}
