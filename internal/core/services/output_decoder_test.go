package services

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeOutput(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "hello", "hello"},
		{"ansi colors", "\x1b[32mINFO\x1b[0m Vid 1080p", "INFO Vid 1080p"},
		{"cursor and osc", "\x1b[2K\x1b]0;title\x07progress 10%", "progress 10%"},
		{"crlf and cr", "a\r\nb\rc\n", "a\nb\nc"},
		{"blank lines and padding", "  one  \n\n\t\n two", "one\ntwo"},
		{"control chars", "ab\x00c\x07d", "abcd"},
		{"unicode kept", "直播 录制 ✓", "直播 录制 ✓"},
		{"stray invalid byte", "hello world\xff", "hello world"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeOutput([]byte(tc.in))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeOutputRejectsBinary(t *testing.T) {
	_, err := DecodeOutput([]byte{0xff, 0xfe, 'a'})
	require.ErrorIs(t, err, ErrUndecodableOutput)
}

func TestExtractSignalsFileSize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		size int64
		ok   bool
	}{
		{"mebibytes", "Vid 1080p 10.00MB / 1.20GB 3.5MBps", 10 << 20, true},
		{"rate only", "speed 12.5MiB/s", 0, false},
		{"rate first then size", "2MBps 512KB done", 512 << 10, true},
		{"spaced unit", "downloaded 3 GiB", 3 << 30, true},
		{"bytes", "wrote 700 B", 700, true},
		{"no unit", "segment 1080p", 0, false},
		{"word after unit", "100 Bytes", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig := ExtractSignals(tc.in)
			require.Equal(t, tc.ok, sig.HasFileSize)
			require.Equal(t, tc.size, sig.FileSize)
		})
	}
}

func TestExtractSignalsFinalName(t *testing.T) {
	cases := []struct {
		in   string
		name string
		ext  string
	}{
		{`Muxing to D:\Videos\show_ep1.mkv`, "show_ep1", "mkv"},
		{"Renamed to foo.v2.ts", "foo.v2", "ts"},
		{"Save Name: live_2024", "live_2024", ""},
		{`final file: "clip.MP4"`, "clip", "mp4"},
		{"Renamed to show.1080", "show.1080", ""},
		{"nothing to see here", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			sig := ExtractSignals(tc.in)
			require.Equal(t, tc.name, sig.FinalName)
			require.Equal(t, tc.ext, sig.FinalExt)
		})
	}
}

func TestSplitOutputLines(t *testing.T) {
	sc := bufio.NewScanner(strings.NewReader("10%\r20%\r30%\ndone"))
	sc.Split(splitOutputLines)

	var tokens []string
	for sc.Scan() {
		tokens = append(tokens, sc.Text())
	}
	require.NoError(t, sc.Err())
	require.Equal(t, []string{"10%", "20%", "30%", "done"}, tokens)
}
