package mp4

import (
	"fmt"
	"sort"

	"osdrender/pkg/video/mp4/bitio"
)

// SampleTable gives access to the samples of a single chunk track.
type SampleTable struct {
	// Sizes is nil when every sample has ConstantSize bytes.
	Sizes        []uint32
	ConstantSize uint32

	ChunkOffsets  []uint64
	SampleToChunk []StscEntry
	TimeToSample  []SttsEntry

	// SyncSamples are 1-based sample numbers. Nil when
	// the track has no stss box and every sample is sync.
	SyncSamples []uint32

	// CompositionOffsets is nil when the track has no ctts box.
	CompositionOffsets []CttsEntry

	count    int
	dataSize uint64
	syncSet  map[uint32]struct{}

	// Run length composition offsets, cttsEnds[k] is
	// the first sample after entry k.
	cttsEnds    []int
	cttsOffsets []int64

	// Sequential access cursor.
	cursorIndex  int
	cursorOffset uint64
}

// NewSampleTable validates the tables in stbl.
// Memory use is bounded by the size of the tables, not the sample count.
func NewSampleTable(stbl *Stbl) (*SampleTable, error) {
	stsz, ok := stbl.Child(TypeStsz).(*Stsz)
	if !ok {
		return nil, fmt.Errorf("%w: stsz", ErrBoxMissing)
	}
	stts, ok := stbl.Child(TypeStts).(*Stts)
	if !ok {
		return nil, fmt.Errorf("%w: stts", ErrBoxMissing)
	}
	stsc, ok := stbl.Child(TypeStsc).(*Stsc)
	if !ok {
		return nil, fmt.Errorf("%w: stsc", ErrBoxMissing)
	}

	t := &SampleTable{
		SampleToChunk: stsc.Entries,
		TimeToSample:  stts.Entries,
	}

	switch {
	case stbl.Child(TypeStco) != nil:
		stco := stbl.Child(TypeStco).(*Stco)
		t.ChunkOffsets = make([]uint64, len(stco.ChunkOffsets))
		for i, offset := range stco.ChunkOffsets {
			t.ChunkOffsets[i] = uint64(offset)
		}
	case stbl.Child(TypeCo64) != nil:
		t.ChunkOffsets = stbl.Child(TypeCo64).(*Co64).ChunkOffsets
	default:
		return nil, fmt.Errorf("%w: stco or co64", ErrBoxMissing)
	}

	if stsz.SampleSize != 0 {
		t.ConstantSize = stsz.SampleSize
		t.count = int(stsz.SampleCount)
		t.dataSize = uint64(stsz.SampleCount) * uint64(stsz.SampleSize)
	} else {
		if len(stsz.EntrySizes) != int(stsz.SampleCount) {
			return nil, fmt.Errorf("%w: stsz has %d sizes for %d samples",
				ErrStreamFormat, len(stsz.EntrySizes), stsz.SampleCount)
		}
		t.Sizes = stsz.EntrySizes
		t.count = len(t.Sizes)
		for _, size := range t.Sizes {
			t.dataSize += uint64(size)
		}
	}
	count := t.count

	if len(t.ChunkOffsets) > 1 {
		return nil, fmt.Errorf("%w: %d chunks", ErrMultipleChunks, len(t.ChunkOffsets))
	}
	if count != 0 && len(t.ChunkOffsets) == 0 {
		return nil, fmt.Errorf("%w: %d samples without chunk", ErrStreamFormat, count)
	}

	var sttsTotal int
	for _, e := range t.TimeToSample {
		sttsTotal += int(e.SampleCount)
	}
	if sttsTotal != count {
		return nil, fmt.Errorf("%w: stts covers %d samples, stsz has %d",
			ErrStreamFormat, sttsTotal, count)
	}

	if stscTotal := stscSampleCount(t.SampleToChunk, len(t.ChunkOffsets)); stscTotal != count {
		return nil, fmt.Errorf("%w: stsc covers %d samples, stsz has %d",
			ErrStreamFormat, stscTotal, count)
	}

	if stss, ok := stbl.Child(TypeStss).(*Stss); ok {
		t.SyncSamples = stss.SampleNumbers
		t.syncSet = make(map[uint32]struct{}, len(stss.SampleNumbers))
		for _, n := range stss.SampleNumbers {
			if n < 1 || int(n) > count {
				return nil, fmt.Errorf("%w: sync sample %d outside [1, %d]",
					ErrStreamFormat, n, count)
			}
			t.syncSet[n] = struct{}{}
		}
	}

	if ctts, ok := stbl.Child(TypeCtts).(*Ctts); ok {
		t.CompositionOffsets = ctts.Entries
		t.cttsEnds = make([]int, 0, len(ctts.Entries))
		t.cttsOffsets = make([]int64, 0, len(ctts.Entries))
		end := 0
		for _, e := range ctts.Entries {
			if e.SampleCount == 0 {
				continue
			}
			end += int(e.SampleCount)
			t.cttsEnds = append(t.cttsEnds, end)
			t.cttsOffsets = append(t.cttsOffsets, ctts.Offset(e))
		}
	}

	return t, nil
}

// CheckBounds returns an error unless every sample lies in [start, end).
func (t *SampleTable) CheckBounds(start, end uint64) error {
	if t.count == 0 {
		return nil
	}
	offset := t.ChunkOffsets[0]
	if offset < start || offset > end || t.dataSize > end-offset {
		return fmt.Errorf("%w: %d bytes of samples at offset %d outside [%d, %d)",
			ErrStreamFormat, t.dataSize, offset, start, end)
	}
	return nil
}

func stscSampleCount(entries []StscEntry, chunkCount int) int {
	total := 0
	for i, e := range entries {
		lastChunk := uint32(chunkCount)
		if i+1 < len(entries) {
			lastChunk = entries[i+1].FirstChunk - 1
		}
		if lastChunk >= e.FirstChunk {
			total += int(lastChunk-e.FirstChunk+1) * int(e.SamplesPerChunk)
		}
	}
	return total
}

// SampleCount returns the number of samples.
func (t *SampleTable) SampleCount() int {
	return t.count
}

// SampleSize returns the size of sample i.
func (t *SampleTable) SampleSize(i int) uint32 {
	if t.Sizes == nil {
		return t.ConstantSize
	}
	return t.Sizes[i]
}

// DataSize returns the total size of all samples.
func (t *SampleTable) DataSize() uint64 {
	return t.dataSize
}

// SampleOffset returns the file offset of sample i.
// Sequential calls are O(1).
func (t *SampleTable) SampleOffset(i int) (uint64, error) {
	if i < 0 || i >= t.count {
		return 0, fmt.Errorf("%w: sample %d of %d", bitio.ErrRange, i, t.count)
	}
	if t.Sizes == nil {
		return t.ChunkOffsets[0] + uint64(i)*uint64(t.ConstantSize), nil
	}
	if i < t.cursorIndex {
		t.cursorIndex = 0
		t.cursorOffset = 0
	}
	for ; t.cursorIndex < i; t.cursorIndex++ {
		t.cursorOffset += uint64(t.Sizes[t.cursorIndex])
	}
	return t.ChunkOffsets[0] + t.cursorOffset, nil
}

// GetSample reads sample i.
func (t *SampleTable) GetSample(r *bitio.Reader, i int) ([]byte, error) {
	offset, err := t.SampleOffset(i)
	if err != nil {
		return nil, err
	}
	if err := r.Seek(int64(offset)); err != nil {
		return nil, fmt.Errorf("seek to sample %d: %w", i, err)
	}
	sample, err := r.ReadBytes(int(t.SampleSize(i)))
	if err != nil {
		return nil, fmt.Errorf("read sample %d: %w", i, err)
	}
	return sample, nil
}

// IsSampleSync reports whether sample i is a sync sample.
func (t *SampleTable) IsSampleSync(i int) bool {
	if t.SyncSamples == nil {
		return true
	}
	_, ok := t.syncSet[uint32(i+1)]
	return ok
}

// SampleDelta returns the first decode time delta.
func (t *SampleTable) SampleDelta() uint32 {
	if len(t.TimeToSample) == 0 {
		return 0
	}
	return t.TimeToSample[0].SampleDelta
}

// DecodeTime returns the decode timestamp of sample i.
func (t *SampleTable) DecodeTime(i int) int64 {
	var dts int64
	remaining := i
	for _, e := range t.TimeToSample {
		if remaining <= int(e.SampleCount) {
			return dts + int64(remaining)*int64(e.SampleDelta)
		}
		dts += int64(e.SampleCount) * int64(e.SampleDelta)
		remaining -= int(e.SampleCount)
	}
	return dts
}

// HasCompositionOffsets reports whether the track has a ctts box.
func (t *SampleTable) HasCompositionOffsets() bool {
	return t.CompositionOffsets != nil
}

// CompositionOffset returns the composition offset of sample i.
// Samples past the ctts table have no offset.
func (t *SampleTable) CompositionOffset(i int) int64 {
	if i < 0 {
		return 0
	}
	k := sort.SearchInts(t.cttsEnds, i+1)
	if k == len(t.cttsEnds) {
		return 0
	}
	return t.cttsOffsets[k]
}

// CompositionPosition returns the presentation position of sample i:
// i + offset(i)/delta - offset(0)/delta.
func (t *SampleTable) CompositionPosition(i int) int {
	delta := int64(t.SampleDelta())
	if t.CompositionOffsets == nil || delta == 0 {
		return i
	}
	return i + int(t.CompositionOffset(i)/delta) - int(t.CompositionOffset(0)/delta)
}

// PresentationOrder returns the indices of samples [start, start+n)
// sorted by presentation position. Ties keep decode order.
func (t *SampleTable) PresentationOrder(start, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = start + i
	}
	if t.CompositionOffsets == nil {
		return order
	}
	sort.SliceStable(order, func(a, b int) bool {
		return t.CompositionPosition(order[a]) < t.CompositionPosition(order[b])
	})
	return order
}
