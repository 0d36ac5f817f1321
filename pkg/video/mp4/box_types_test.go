package mp4

import (
	"testing"

	"osdrender/pkg/video/mp4/bitio"
	"osdrender/pkg/video/writerseeker"

	"github.com/stretchr/testify/require"
)

func marshalBox(t *testing.T, box Box) []byte {
	t.Helper()
	ws := &writerseeker.WriterSeeker{}
	w, err := bitio.NewWriter(ws)
	require.NoError(t, err)
	require.NoError(t, WriteBox(w, box))
	require.NoError(t, w.Flush())
	return ws.Bytes()
}

func decodeBox(t *testing.T, buf []byte) (Box, *Header) {
	t.Helper()
	d := NewDecoder(bitio.NewBytesReader(buf), nil)
	box, h, err := d.DecodeBox()
	require.NoError(t, err)
	require.Equal(t, int64(len(buf)), d.Pos())
	return box, h
}

func TestBoxTypes(t *testing.T) {
	testCases := []struct {
		name string
		src  Box
		bin  []byte // Body, optional.
	}{
		{
			name: "btrt",
			src: &Btrt{
				BufferSizeDB: 0x12345678,
				MaxBitrate:   0x3456789a,
				AvgBitrate:   0x56789abc,
			},
			bin: []byte{
				0x12, 0x34, 0x56, 0x78, // bufferSizeDB
				0x34, 0x56, 0x78, 0x9a, // maxBitrate
				0x56, 0x78, 0x9a, 0xbc, // avgBitrate
			},
		},
		{
			name: "co64",
			src: &Co64{
				ChunkOffsets: []uint64{0x0123456789abcdef, 0x89abcdef01234567},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, // chunk offset
				0x89, 0xab, 0xcd, 0xef, 0x01, 0x23, 0x45, 0x67, // chunk offset
			},
		},
		{
			name: "ctts: version 0",
			src: &Ctts{
				Entries: []CttsEntry{
					{SampleCount: 0x01234567, SampleOffsetV0: 0x12345678},
					{SampleCount: 0x89abcdef, SampleOffsetV0: 0x789abcde},
				},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // sample count
				0x12, 0x34, 0x56, 0x78, // sample offset
				0x89, 0xab, 0xcd, 0xef, // sample count
				0x78, 0x9a, 0xbc, 0xde, // sample offset
			},
		},
		{
			name: "ctts: version 1",
			src: &Ctts{
				FullBox: FullBox{Version: 1},
				Entries: []CttsEntry{
					{SampleCount: 0x01234567, SampleOffsetV1: 0x12345678},
					{SampleCount: 0x89abcdef, SampleOffsetV1: -0x789abcde},
				},
			},
			bin: []byte{
				1,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // sample count
				0x12, 0x34, 0x56, 0x78, // sample offset
				0x89, 0xab, 0xcd, 0xef, // sample count
				0x87, 0x65, 0x43, 0x22, // sample offset
			},
		},
		{
			name: "dref",
			src: func() Box {
				b := &Dref{}
				b.Add(&URL{FullBox: FullBox{Flags: [3]byte{0, 0, 1}}})
				return b
			}(),
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x01, // entry count
				0x00, 0x00, 0x00, 0x0c, // url size
				'u', 'r', 'l', ' ', // url type
				0,                // url version
				0x00, 0x00, 0x01, // url flags
			},
		},
		{
			name: "url: location",
			src: &URL{
				Location: "http://example.com/",
			},
		},
		{
			name: "urn",
			src: &URN{
				Name:     "urn:test",
				Location: "here",
			},
		},
		{
			name: "elst: version 0",
			src: &Elst{
				Entries: []ElstEntry{
					{
						SegmentDurationV0: 0x0100000a,
						MediaTimeV0:       0x0100000b,
						MediaRateInteger:  0x010c,
						MediaRateFraction: 0x010d,
					},
				},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x01, // entry count
				0x01, 0x00, 0x00, 0x0a, // segment duration v0
				0x01, 0x00, 0x00, 0x0b, // media time v0
				0x01, 0x0c, // media rate integer
				0x01, 0x0d, // media rate fraction
			},
		},
		{
			name: "elst: version 1",
			src: &Elst{
				FullBox: FullBox{Version: 1},
				Entries: []ElstEntry{
					{
						SegmentDurationV1: 0x0100000000000a,
						MediaTimeV1:       -1,
						MediaRateInteger:  1,
					},
				},
			},
		},
		{
			name: "free",
			src:  &Free{Data: []byte{0x12, 0x34}},
			bin:  []byte{0x12, 0x34},
		},
		{
			name: "ftyp",
			src: &Ftyp{
				MajorBrand:   [4]byte{'a', 'b', 'e', 'm'},
				MinorVersion: 0x12345678,
				CompatibleBrands: []CompatibleBrandElem{
					{CompatibleBrand: [4]byte{'a', 'b', 'c', 'd'}},
					{CompatibleBrand: [4]byte{'e', 'f', 'g', 'h'}},
				},
			},
			bin: []byte{
				'a', 'b', 'e', 'm', // major brand
				0x12, 0x34, 0x56, 0x78, // minor version
				'a', 'b', 'c', 'd', // compatible brand
				'e', 'f', 'g', 'h', // compatible brand
			},
		},
		{
			name: "hdlr",
			src: &Hdlr{
				PreDefined:  0x12345678,
				HandlerType: [4]byte{'a', 'b', 'e', 'm'},
				Reserved:    [3]uint32{0, 0, 0},
				Name:        "Abema",
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x12, 0x34, 0x56, 0x78, // pre-defined
				'a', 'b', 'e', 'm', // handler type
				0x00, 0x00, 0x00, 0x00, // reserved
				0x00, 0x00, 0x00, 0x00, // reserved
				0x00, 0x00, 0x00, 0x00, // reserved
				'A', 'b', 'e', 'm', 'a', 0x00, // name
			},
		},
		{
			name: "mdhd: version 0",
			src: &Mdhd{
				CreationTimeV0:     0x12345678,
				ModificationTimeV0: 0x23456789,
				Timescale:          0x01020304,
				DurationV0:         0x02030405,
				Language:           [3]byte{'u', 'n', 'd'},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x12, 0x34, 0x56, 0x78, // creation time
				0x23, 0x45, 0x67, 0x89, // modification time
				0x01, 0x02, 0x03, 0x04, // timescale
				0x02, 0x03, 0x04, 0x05, // duration
				0x55, 0xc4, // pad, language
				0x00, 0x00, // pre defined
			},
		},
		{
			name: "mdhd: version 1",
			src: &Mdhd{
				FullBox:            FullBox{Version: 1},
				CreationTimeV1:     0x123456789abcdef0,
				ModificationTimeV1: 0x23456789abcdef01,
				Timescale:          0x01020304,
				DurationV1:         0x0203040506070809,
				Pad:                true,
				Language:           [3]byte{'j', 'p', 'n'},
			},
		},
		{
			name: "mvhd: version 0",
			src: &Mvhd{
				CreationTimeV0:     0x01234567,
				ModificationTimeV0: 0x23456789,
				Timescale:          0x456789ab,
				DurationV0:         0x6789abcd,
				Rate:               -0x01234567,
				Volume:             0x0123,
				Matrix:             [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
				PreDefined:         [6]int32{},
				NextTrackID:        0xabcdef01,
			},
		},
		{
			name: "mvhd: version 1",
			src: &Mvhd{
				FullBox:            FullBox{Version: 1},
				CreationTimeV1:     0x0123456789abcdef,
				ModificationTimeV1: 0x23456789abcdef01,
				Timescale:          0x89abcdef,
				DurationV1:         0x456789abcdef0123,
				Rate:               0x00010000,
				Volume:             0x0100,
				NextTrackID:        2,
			},
		},
		{
			name: "pasp",
			src:  &Pasp{HSpacing: 4, VSpacing: 3},
			bin: []byte{
				0x00, 0x00, 0x00, 0x04, // h spacing
				0x00, 0x00, 0x00, 0x03, // v spacing
			},
		},
		{
			name: "smhd",
			src: &Smhd{
				Balance: 0x0123,
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x01, 0x23, // balance
				0x00, 0x00, // reserved
			},
		},
		{
			name: "stco",
			src: &Stco{
				ChunkOffsets: []uint32{0x01234567, 0x89abcdef},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // chunk offset
				0x89, 0xab, 0xcd, 0xef, // chunk offset
			},
		},
		{
			name: "stsc",
			src: &Stsc{
				Entries: []StscEntry{
					{FirstChunk: 0x01234567, SamplesPerChunk: 0x23456789, SampleDescriptionIndex: 0x456789ab},
					{FirstChunk: 0x6789abcd, SamplesPerChunk: 0x89abcdef, SampleDescriptionIndex: 0xabcdef01},
				},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // first chunk
				0x23, 0x45, 0x67, 0x89, // sample per chunk
				0x45, 0x67, 0x89, 0xab, // sample description index
				0x67, 0x89, 0xab, 0xcd, // first chunk
				0x89, 0xab, 0xcd, 0xef, // sample per chunk
				0xab, 0xcd, 0xef, 0x01, // sample description index
			},
		},
		{
			name: "stss",
			src: &Stss{
				SampleNumbers: []uint32{0x01234567, 0x89abcdef},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // sample number
				0x89, 0xab, 0xcd, 0xef, // sample number
			},
		},
		{
			name: "stsz: common sample size",
			src: &Stsz{
				SampleSize:  0x01234567,
				SampleCount: 2,
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x01, 0x23, 0x45, 0x67, // sample size
				0x00, 0x00, 0x00, 0x02, // sample count
			},
		},
		{
			name: "stsz: sample size array",
			src: &Stsz{
				SampleCount: 2,
				EntrySizes:  []uint32{0x01234567, 0x23456789},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x00, // sample size
				0x00, 0x00, 0x00, 0x02, // sample count
				0x01, 0x23, 0x45, 0x67, // entry size
				0x23, 0x45, 0x67, 0x89, // entry size
			},
		},
		{
			name: "stts",
			src: &Stts{
				Entries: []SttsEntry{
					{SampleCount: 0x01234567, SampleDelta: 0x23456789},
					{SampleCount: 0x456789ab, SampleDelta: 0x6789abcd},
				},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x00, // flags
				0x00, 0x00, 0x00, 0x02, // entry count
				0x01, 0x23, 0x45, 0x67, // sample count
				0x23, 0x45, 0x67, 0x89, // sample delta
				0x45, 0x67, 0x89, 0xab, // sample count
				0x67, 0x89, 0xab, 0xcd, // sample delta
			},
		},
		{
			name: "tkhd: version 0",
			src: &Tkhd{
				FullBox:            FullBox{Flags: [3]byte{0, 0, 3}},
				CreationTimeV0:     0x01234567,
				ModificationTimeV0: 0x12345678,
				TrackID:            0x23456789,
				DurationV0:         0x456789ab,
				Layer:              23456,  // 0x5ba0
				AlternateGroup:     -23456, // 0xa460
				Volume:             0x0100,
				Matrix:             [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000},
				Width:              1920 * 65536,
				Height:             1080 * 65536,
			},
		},
		{
			name: "tkhd: version 1",
			src: &Tkhd{
				FullBox:            FullBox{Version: 1},
				CreationTimeV1:     0x0123456789abcdef,
				ModificationTimeV1: 0x123456789abcdef0,
				TrackID:            1,
				DurationV1:         0x456789abcdef0123,
				Width:              1280 * 65536,
				Height:             720 * 65536,
			},
		},
		{
			name: "vmhd",
			src: &Vmhd{
				FullBox:      FullBox{Flags: [3]byte{0, 0, 1}},
				Graphicsmode: 0x0123,
				Opcolor:      [3]uint16{0x2345, 0x4567, 0x6789},
			},
			bin: []byte{
				0,                // version
				0x00, 0x00, 0x01, // flags
				0x01, 0x23, // graphics mode
				0x23, 0x45, 0x45, 0x67, 0x67, 0x89, // opcolor
			},
		},
		{
			name: "avcC: main profile",
			src: &AvcC{
				ConfigurationVersion: 0x12,
				Profile:              AVCMainProfile,
				ProfileCompatibility: 0x40,
				Level:                0x1f,
				Reserved:             0x3f,
				LengthSizeMinusOne:   0x2,
				Reserved2:            0x7,
				SequenceParameterSets: []AVCParameterSet{
					{NALUnit: []byte{0x67, 0x01, 0x02}},
				},
				PictureParameterSets: []AVCParameterSet{
					{NALUnit: []byte{0x68, 0x03}},
				},
			},
			bin: []byte{
				0x12,       // configuration version
				0x4d,       // profile
				0x40,       // profile compatibility
				0x1f,       // level
				0xfe,       // reserved, lengthSizeMinusOne
				0xe1,       // reserved, number of SPSs
				0x00, 0x03, // length
				0x67, 0x01, 0x02, // nal unit
				0x01,       // number of PPSs
				0x00, 0x02, // length
				0x68, 0x03, // nal unit
			},
		},
		{
			name: "avcC: high profile",
			src: &AvcC{
				ConfigurationVersion: 1,
				Profile:              AVCHighProfile,
				Level:                0x28,
				Reserved:             0x3f,
				LengthSizeMinusOne:   0x3,
				Reserved2:            0x7,
				SequenceParameterSets: []AVCParameterSet{
					{NALUnit: []byte{0x67, 0x64}},
				},
				PictureParameterSets: []AVCParameterSet{
					{NALUnit: []byte{0x68}},
				},
				HighProfileFieldsEnabled: true,
				Reserved3:                0x3f,
				ChromaFormat:             0x1,
				Reserved4:                0x1f,
				BitDepthLumaMinus8:       0x2,
				Reserved5:                0x1f,
				BitDepthChromaMinus8:     0x3,
				SequenceParameterSetsExt: []AVCParameterSet{
					{NALUnit: []byte{0x6d}},
				},
			},
		},
		{
			name: "avc1",
			src: func() Box {
				b := &Avc1{
					SampleEntry: SampleEntry{
						DataReferenceIndex: 1,
					},
					Width:           1920,
					Height:          1080,
					Horizresolution: 4718592,
					Vertresolution:  4718592,
					FrameCount:      1,
					Depth:           24,
					PreDefined3:     -1,
				}
				b.Add(&AvcC{
					ConfigurationVersion: 1,
					Profile:              AVCMainProfile,
					Reserved:             0x3f,
					LengthSizeMinusOne:   3,
					Reserved2:            0x7,
					SequenceParameterSets: []AVCParameterSet{
						{NALUnit: []byte{0x67}},
					},
					PictureParameterSets: []AVCParameterSet{
						{NALUnit: []byte{0x68}},
					},
				})
				b.Add(&Btrt{MaxBitrate: 1, AvgBitrate: 2})
				return b
			}(),
		},
		{
			name: "stsd",
			src: func() Box {
				b := &Stsd{}
				b.Add(&Avc1{Width: 4, Height: 2})
				return b
			}(),
		},
		{
			name: "nested containers",
			src: func() Box {
				stbl := &Stbl{}
				stbl.Add(&Stts{Entries: []SttsEntry{{SampleCount: 1, SampleDelta: 2}}})
				stbl.Add(&Stsz{SampleCount: 1, EntrySizes: []uint32{5}})
				minf := &Minf{}
				minf.Add(&Vmhd{}, stbl)
				mdia := &Mdia{}
				mdia.Add(&Mdhd{Timescale: 90000, Language: [3]byte{'u', 'n', 'd'}}, minf)
				edts := &Edts{}
				edts.Add(&Elst{Entries: []ElstEntry{{MediaRateInteger: 1}}})
				trak := &Trak{}
				trak.Add(&Tkhd{TrackID: 1}, edts, mdia)
				moov := &Moov{}
				moov.Add(&Mvhd{Timescale: 1000, NextTrackID: 2}, trak, &Udta{})
				return moov
			}(),
		},
		{
			name: "unknown",
			src: &Unknown{
				BoxType: StrToBoxType("xyz1"),
				Data:    []byte{1, 2, 3},
			},
			bin: []byte{1, 2, 3},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := marshalBox(t, tc.src)
			if tc.bin != nil {
				require.Equal(t, tc.bin, buf[8:])
			}

			box, h := decodeBox(t, buf)
			require.Equal(t, tc.src.Type(), h.Type)
			require.Equal(t, uint64(len(buf)), h.Size)
			require.Equal(t, tc.src, box)

			// Serialization is idempotent.
			require.Equal(t, buf, marshalBox(t, box))
		})
	}
}

func TestMdat(t *testing.T) {
	buf := marshalBox(t, &Mdat{Data: []byte{1, 2, 3, 4}})
	require.Equal(t, []byte{0, 0, 0, 12, 'm', 'd', 'a', 't', 1, 2, 3, 4}, buf)

	box, _ := decodeBox(t, buf)
	mdat := box.(*Mdat)
	require.Nil(t, mdat.Data)
	require.Equal(t, int64(8), mdat.DataOffset)
	require.Equal(t, int64(4), mdat.DataSize)
}

func TestWriteLargeBox(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	w, err := bitio.NewWriter(ws)
	require.NoError(t, err)
	require.NoError(t, WriteLargeBox(w, &Mdat{Data: []byte{1, 2}}))
	require.NoError(t, w.Flush())

	expected := []byte{
		0x00, 0x00, 0x00, 0x01, // size
		'm', 'd', 'a', 't', // type
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x12, // large size
		1, 2,
	}
	require.Equal(t, expected, ws.Bytes())

	box, h := decodeBox(t, ws.Bytes())
	require.Equal(t, 16, h.HeaderSize)
	require.Equal(t, int64(16), box.(*Mdat).DataOffset)
	require.Equal(t, int64(2), box.(*Mdat).DataSize)
}

func TestAvcCInconsistentProfile(t *testing.T) {
	ws := &writerseeker.WriterSeeker{}
	w, err := bitio.NewWriter(ws)
	require.NoError(t, err)
	err = WriteBox(w, &AvcC{
		Profile:                  AVCMainProfile,
		HighProfileFieldsEnabled: true,
	})
	require.ErrorIs(t, err, ErrStreamFormat)
}
