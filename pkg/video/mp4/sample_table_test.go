package mp4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSampleTablePresentationOrder(t *testing.T) {
	// IPBB pattern with 2 frame reorder delay, delta 100.
	stbl := newTestStbl(testTrack{
		sizes: []uint32{1, 1, 1, 1, 1, 1},
		syncs: []uint32{1},
		delta: 100,
		ctts: []CttsEntry{
			{SampleCount: 1, SampleOffsetV0: 200}, // I
			{SampleCount: 1, SampleOffsetV0: 400}, // P
			{SampleCount: 2, SampleOffsetV0: 100}, // B B
			{SampleCount: 1, SampleOffsetV0: 300}, // P
			{SampleCount: 1, SampleOffsetV0: 100}, // P
		},
	}, 0)
	table, err := NewSampleTable(stbl)
	require.NoError(t, err)
	require.True(t, table.HasCompositionOffsets())

	offsets := []int64{200, 400, 100, 100, 300, 100}
	for i, off := range offsets {
		require.Equal(t, i+int(off/100)-2, table.CompositionPosition(i))
	}
	// Positions: 0, 3, 1, 2, 5, 4.
	require.Equal(t, []int{0, 2, 3, 1, 5, 4}, table.PresentationOrder(0, 6))
	require.Equal(t, []int{5, 4}, table.PresentationOrder(4, 2))
}

func TestSampleTableNoCtts(t *testing.T) {
	table, err := NewSampleTable(newTestStbl(testTrack{
		sizes: []uint32{1, 2, 3},
		delta: 3000,
	}, 100))
	require.NoError(t, err)

	require.False(t, table.HasCompositionOffsets())
	require.Equal(t, []int{0, 1, 2}, table.PresentationOrder(0, 3))
	require.Equal(t, 2, table.CompositionPosition(2))

	// Without stss every sample is sync.
	require.True(t, table.IsSampleSync(0))
	require.True(t, table.IsSampleSync(2))

	require.Equal(t, uint32(3000), table.SampleDelta())
	require.Equal(t, int64(0), table.DecodeTime(0))
	require.Equal(t, int64(6000), table.DecodeTime(2))

	offset, err := table.SampleOffset(2)
	require.NoError(t, err)
	require.Equal(t, uint64(103), offset)
	offset, err = table.SampleOffset(1)
	require.NoError(t, err)
	require.Equal(t, uint64(101), offset)

	_, err = table.SampleOffset(3)
	require.Error(t, err)
}

func TestSampleTableCommonSize(t *testing.T) {
	stbl := newTestStbl(testTrack{sizes: []uint32{4, 4}, delta: 1}, 0)
	stsz := stbl.Child(TypeStsz).(*Stsz)
	stsz.SampleSize = 4
	stsz.EntrySizes = nil

	table, err := NewSampleTable(stbl)
	require.NoError(t, err)
	require.Nil(t, table.Sizes)
	require.Equal(t, 2, table.SampleCount())
	require.Equal(t, uint32(4), table.SampleSize(1))
	require.Equal(t, uint64(8), table.DataSize())

	offset, err := table.SampleOffset(1)
	require.NoError(t, err)
	require.Equal(t, uint64(4), offset)
}

func TestSampleTableHugeConstantSize(t *testing.T) {
	const count = 0xffffffff
	stbl := newTestStbl(testTrack{sizes: []uint32{1}, delta: 1}, 0)
	stsz := stbl.Child(TypeStsz).(*Stsz)
	stsz.SampleSize = 1
	stsz.SampleCount = count
	stsz.EntrySizes = nil
	stbl.Child(TypeStts).(*Stts).Entries[0].SampleCount = count
	stbl.Child(TypeStsc).(*Stsc).Entries[0].SamplesPerChunk = count
	stbl.Add(&Ctts{Entries: []CttsEntry{{SampleCount: count, SampleOffsetV0: 2}}})

	// Nothing is allocated per sample.
	table, err := NewSampleTable(stbl)
	require.NoError(t, err)
	require.Equal(t, count, table.SampleCount())
	require.Equal(t, int64(2), table.CompositionOffset(count-1))
	require.Equal(t, uint64(count), table.DataSize())

	require.ErrorIs(t, table.CheckBounds(0, 100), ErrStreamFormat)
}

func TestSampleTableCheckBounds(t *testing.T) {
	table, err := NewSampleTable(newTestStbl(testTrack{sizes: []uint32{3, 1}, delta: 1}, 10))
	require.NoError(t, err)
	require.NoError(t, table.CheckBounds(10, 14))
	require.NoError(t, table.CheckBounds(0, 100))
	require.ErrorIs(t, table.CheckBounds(10, 13), ErrStreamFormat)
	require.ErrorIs(t, table.CheckBounds(11, 20), ErrStreamFormat)

	stbl := newTestStbl(testTrack{sizes: []uint32{1, 1}, delta: 1}, 10)
	stsz := stbl.Child(TypeStsz).(*Stsz)
	stsz.SampleSize = 0
	stsz.EntrySizes = nil
	_, err = NewSampleTable(stbl)
	require.ErrorIs(t, err, ErrStreamFormat)
}

func TestSampleTableValidation(t *testing.T) {
	testCases := map[string]func(stbl *Stbl){
		"multiple chunks": func(stbl *Stbl) {
			stbl.Child(TypeStco).(*Stco).ChunkOffsets = []uint32{0, 10}
		},
		"stts count": func(stbl *Stbl) {
			stbl.Child(TypeStts).(*Stts).Entries[0].SampleCount = 2
		},
		"stsc count": func(stbl *Stbl) {
			stbl.Child(TypeStsc).(*Stsc).Entries[0].SamplesPerChunk = 4
		},
		"sync sample zero": func(stbl *Stbl) {
			stbl.Child(TypeStss).(*Stss).SampleNumbers = []uint32{0}
		},
		"sync sample past end": func(stbl *Stbl) {
			stbl.Child(TypeStss).(*Stss).SampleNumbers = []uint32{1, 4}
		},
	}
	for name, modify := range testCases {
		t.Run(name, func(t *testing.T) {
			stbl := newTestStbl(testTrack{
				sizes: []uint32{1, 1, 1},
				syncs: []uint32{1},
				delta: 1,
			}, 0)
			modify(stbl)
			_, err := NewSampleTable(stbl)
			require.ErrorIs(t, err, ErrStreamFormat)
		})
	}

	t.Run("missing stsz", func(t *testing.T) {
		_, err := NewSampleTable(&Stbl{})
		require.ErrorIs(t, err, ErrBoxMissing)
	})
}

func TestSampleTableMultipleChunksError(t *testing.T) {
	stbl := newTestStbl(testTrack{sizes: []uint32{1, 1}, delta: 1}, 0)
	stbl.Child(TypeStco).(*Stco).ChunkOffsets = []uint32{0, 1}
	stbl.Child(TypeStsc).(*Stsc).Entries[0].SamplesPerChunk = 1
	_, err := NewSampleTable(stbl)
	require.ErrorIs(t, err, ErrMultipleChunks)
}
