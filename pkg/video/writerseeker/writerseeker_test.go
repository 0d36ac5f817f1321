package writerseeker

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteSeek(t *testing.T) {
	ws := &WriterSeeker{}
	checkWrite(t, ws, "hello", "hello")
	checkWrite(t, ws, " world", "hello world")

	checkSeek(t, ws, -2, io.SeekEnd, len("hello world")-2)
	checkWrite(t, ws, "k!", "hello work!")

	checkSeek(t, ws, 6, io.SeekStart, 6)
	checkWrite(t, ws, "gopher", "hello gopher")

	// Overwrite before growing.
	checkSeek(t, ws, -4, io.SeekCurrent, len("hello gopher")-4)
	checkWrite(t, ws, "lang fans", "hello golang fans")

	// Gaps are filled with null bytes.
	checkSeek(t, ws, 4, io.SeekCurrent, len("hello golang fans")+4)
	checkWrite(t, ws, "!", "hello golang fans\x00\x00\x00\x00!")
}

func TestSeekLargeGap(t *testing.T) {
	ws := &WriterSeeker{}
	checkSeek(t, ws, 1024, io.SeekStart, 1024)
	checkWrite(t, ws, "hello", strings.Repeat("\x00", 1024)+"hello")
	require.Equal(t, int64(1029), ws.Size())
}

func TestSeekNegative(t *testing.T) {
	ws := &WriterSeeker{}
	_, err := ws.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, ErrNegativeResultPos)
}

func TestReadAt(t *testing.T) {
	ws := &WriterSeeker{}
	_, err := ws.Write([]byte("0123456789"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := ws.ReadAt(buf, 3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "3456", string(buf))

	_, err = ws.ReadAt(buf, 8)
	require.ErrorIs(t, err, io.EOF)
}

func checkWrite(t *testing.T, ws *WriterSeeker, data, exp string) {
	t.Helper()
	n, err := ws.Write([]byte(data))
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, exp, ws.buf.String())
}

func checkSeek(t *testing.T, ws *WriterSeeker, offset int64, whence, exp int) {
	t.Helper()
	newOffset, err := ws.Seek(offset, whence)
	require.NoError(t, err)
	require.Equal(t, int64(exp), newOffset)
}
