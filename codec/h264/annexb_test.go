package h264

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitAnnexB(t *testing.T) {
	t.Parallel()

	stream := []byte{
		0, 0, 0, 1, 0x67, 0x42, 0x00, 0x1f,
		0, 0, 1, 0x68, 0xce, 0x3c, 0x80, 0,
		0, 0, 0, 1, 0x65, 0x88, 0x84,
	}
	nalus := SplitAnnexB(stream)
	require.Len(t, nalus, 3)
	require.Equal(t, []byte{0x67, 0x42, 0x00, 0x1f}, nalus[0])
	require.Equal(t, []byte{0x68, 0xce, 0x3c, 0x80}, nalus[1])
	require.Equal(t, []byte{0x65, 0x88, 0x84}, nalus[2])

	require.True(t, IsKeyFrame(stream))
	sps, pps := ParameterSets(stream)
	require.Len(t, sps, 1)
	require.Len(t, pps, 1)
}

func TestNonKeyFrame(t *testing.T) {
	t.Parallel()

	require.False(t, IsKeyFrame([]byte{0, 0, 1, 0x41, 0x9a, 0x02}))
	require.False(t, IsKeyFrame(nil))
	require.Empty(t, SplitAnnexB([]byte{0x41, 0x9a}))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want uint8
		err  bool
	}{
		{in: "3.1", want: 31},
		{in: "31", want: 31},
		{in: "4.2", want: 42},
		{in: "", want: Level31},
		{in: "7.0", err: true},
		{in: "x", err: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if tt.err {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseProfile(t *testing.T) {
	t.Parallel()

	p, err := ParseProfile("High")
	require.NoError(t, err)
	require.Equal(t, ProfileHigh, p)
	_, err = ParseProfile("extended")
	require.Error(t, err)
}
