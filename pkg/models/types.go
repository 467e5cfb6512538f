package models

import "time"

// MediaIdentity 标识一个媒体文件，路径、大小和修改时间完全一致才算同一文件
type MediaIdentity struct {
	Path    string `json:"path"`     // 绝对路径
	Size    int64  `json:"size"`     // 字节数
	ModTime int64  `json:"mod_time"` // 修改时间（Unix纳秒）
}

// Equal 判断两个标识是否完全一致
func (m MediaIdentity) Equal(other MediaIdentity) bool {
	return m.Path == other.Path && m.Size == other.Size && m.ModTime == other.ModTime
}

// SourceMedia 待转写的源媒体
type SourceMedia struct {
	Identity MediaIdentity
	Duration float64 // 总时长（秒）
}

// CacheEntry 元数据缓存中的一条记录
type CacheEntry struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  int64     `json:"mod_time"`
	Duration float64   `json:"duration"`
	StoredAt time.Time `json:"stored_at"`
}

// Identity 返回记录对应的文件标识
func (e CacheEntry) Identity() MediaIdentity {
	return MediaIdentity{Path: e.Path, Size: e.Size, ModTime: e.ModTime}
}

// ChunkSpec 描述一个音频片段的时间范围
type ChunkSpec struct {
	Index      int     `json:"index"`       // 从0开始，连续且唯一
	Start      float64 `json:"start"`       // 起始偏移（秒）
	End        float64 `json:"end"`         // 结束偏移（秒），不包含
	SourcePath string  `json:"source_path"` // 提取后的片段文件
}

// Length 片段时长
func (c ChunkSpec) Length() float64 {
	return c.End - c.Start
}

// TaskStatus 片段任务状态
type TaskStatus string

const (
	TaskPending     TaskStatus = "pending"
	TaskRunning     TaskStatus = "running"
	TaskSucceeded   TaskStatus = "succeeded"
	TaskFailedFinal TaskStatus = "failed_final"
)

// Timings 片段各阶段耗时
type Timings struct {
	Extraction    time.Duration `json:"extraction"`
	Transcription time.Duration `json:"transcription"`
}

// Total 片段总耗时
func (t Timings) Total() time.Duration {
	return t.Extraction + t.Transcription
}

// AttemptRecord 一次转写尝试的记录
type AttemptRecord struct {
	Model    string        `json:"model"`
	Attempt  int           `json:"attempt"`
	Kind     string        `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TranscriptionTask 一个片段的转写任务
// 运行期间只由负责它的 worker 修改
type TranscriptionTask struct {
	Chunk         ChunkSpec
	Attempt       int    // 当前模型下的尝试次数
	TotalAttempts int    // 所有模型的尝试总数
	ModelUsed     string // 回退前为主模型
	FallbackUsed  bool
	Status        TaskStatus
	Text          string // 仅在成功时有值
	Err           error  // 仅在最终失败时有值
	ErrorKind     string
	Timings       Timings
	Attempts      []AttemptRecord
}

// NewTask 为片段创建待处理任务
func NewTask(chunk ChunkSpec, model string) *TranscriptionTask {
	return &TranscriptionTask{
		Chunk:     chunk,
		ModelUsed: model,
		Status:    TaskPending,
	}
}

// Succeed 标记任务成功
func (t *TranscriptionTask) Succeed(text string) {
	t.Status = TaskSucceeded
	t.Text = text
	t.Err = nil
	t.ErrorKind = ""
}

// Fail 标记任务最终失败
func (t *TranscriptionTask) Fail(kind string, err error) {
	t.Status = TaskFailedFinal
	t.Text = ""
	t.Err = err
	t.ErrorKind = kind
}

// ErrorMessage 返回最终错误的文本
func (t *TranscriptionTask) ErrorMessage() string {
	if t.Err == nil {
		return ""
	}
	return t.Err.Error()
}
