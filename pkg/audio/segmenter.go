package audio

import (
	"errors"
	"fmt"
	"math"

	"github.com/ccp-p/asr-media-cli/transcriber/pkg/models"
)

var (
	// ErrInvalidMedia 源媒体不可用：不存在、无法探测或时长不合法
	ErrInvalidMedia = errors.New("无效的媒体文件")
	// ErrInvalidChunkLength 片段长度不合法
	ErrInvalidChunkLength = errors.New("无效的片段长度")
)

// Segment 按固定长度把 [0, total) 切成连续片段
// 第 i 个片段为 [i*L, min((i+1)*L, total))，片段数为 ceil(total/L)
// 相同输入总是得到相同结果
func Segment(total, chunkLen float64) ([]models.ChunkSpec, error) {
	if math.IsNaN(total) || math.IsInf(total, 0) || total <= 0 {
		return nil, fmt.Errorf("%w: 时长 %v", ErrInvalidMedia, total)
	}
	if math.IsNaN(chunkLen) || math.IsInf(chunkLen, 0) || chunkLen <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChunkLength, chunkLen)
	}

	if total <= chunkLen {
		return []models.ChunkSpec{{Index: 0, Start: 0, End: total}}, nil
	}

	chunks := make([]models.ChunkSpec, 0, int(math.Ceil(total/chunkLen)))
	// 用 i*L < total 判断，避免 total/L 的浮点误差多切出一个空片段
	for i := 0; float64(i)*chunkLen < total; i++ {
		start := float64(i) * chunkLen
		end := math.Min(float64(i+1)*chunkLen, total)
		chunks = append(chunks, models.ChunkSpec{
			Index: i,
			Start: start,
			End:   end,
		})
	}
	return chunks, nil
}

// OptimalChunkSeconds 根据总时长计算片段长度
// 不超过默认长度的文件保持为一个片段，更长的文件分成约 maxChunks 段，但每段不短于 minSeconds
func OptimalChunkSeconds(total float64, maxChunks, minSeconds, defaultSeconds int) float64 {
	if total <= float64(defaultSeconds) {
		return float64(defaultSeconds)
	}
	if maxChunks < 1 {
		maxChunks = 1
	}
	size := math.Floor(total / float64(maxChunks))
	if size < float64(minSeconds) {
		size = float64(minSeconds)
	}
	if size <= 0 {
		return total
	}
	return size
}
