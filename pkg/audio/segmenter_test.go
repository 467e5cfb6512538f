package audio

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentPartitionsDuration(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		total := rng.Float64()*20000 + 0.001
		chunkLen := rng.Float64()*1800 + 0.5

		chunks, err := Segment(total, chunkLen)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		assert.Equal(t, 0.0, chunks[0].Start)
		assert.Equal(t, total, chunks[len(chunks)-1].End)
		for j, c := range chunks {
			assert.Equal(t, j, c.Index)
			assert.Less(t, c.Start, c.End)
			assert.LessOrEqual(t, c.Length(), chunkLen+1e-9)
			if j > 0 {
				// 首尾相接，没有空隙也没有重叠
				assert.Equal(t, chunks[j-1].End, c.Start)
			}
		}

		last := chunks[len(chunks)-1]
		expectedLast := total - chunkLen*float64(len(chunks)-1)
		assert.InDelta(t, expectedLast, last.Length(), 1e-6)
	}
}

func TestSegmentCount(t *testing.T) {
	chunks, err := Segment(3600, 900)
	require.NoError(t, err)
	assert.Len(t, chunks, 4)

	chunks, err = Segment(3601, 900)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	assert.InDelta(t, 1.0, chunks[4].Length(), 1e-9)

	chunks, err = Segment(2000, 900)
	require.NoError(t, err)
	assert.Len(t, chunks, int(math.Ceil(2000.0/900.0)))
}

func TestSegmentShortFile(t *testing.T) {
	chunks, err := Segment(120, 900)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, 0.0, chunks[0].Start)
	assert.Equal(t, 120.0, chunks[0].End)

	// D == L 也只有一个片段
	chunks, err = Segment(900, 900)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestSegmentDeterministic(t *testing.T) {
	a, err := Segment(5432.1, 333.3)
	require.NoError(t, err)
	b, err := Segment(5432.1, 333.3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSegmentInvalidInput(t *testing.T) {
	for _, total := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := Segment(total, 900)
		assert.True(t, errors.Is(err, ErrInvalidMedia), "total=%v", total)
	}

	for _, chunkLen := range []float64{0, -10, math.NaN()} {
		_, err := Segment(100, chunkLen)
		assert.True(t, errors.Is(err, ErrInvalidChunkLength), "chunkLen=%v", chunkLen)
	}
}

func TestOptimalChunkSeconds(t *testing.T) {
	// 不超过默认长度：保持一个片段
	assert.Equal(t, 900.0, OptimalChunkSeconds(600, 10, 300, 900))
	assert.Equal(t, 900.0, OptimalChunkSeconds(900, 10, 300, 900))

	// 长文件：约 maxChunks 段
	assert.Equal(t, 720.0, OptimalChunkSeconds(7200, 10, 300, 900))

	// 不短于最小值
	assert.Equal(t, 300.0, OptimalChunkSeconds(1000, 10, 300, 900))

	// maxChunks 非法时退化为一段
	assert.Equal(t, 7200.0, OptimalChunkSeconds(7200, 0, 300, 900))
}
