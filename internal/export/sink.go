package export

import (
	"log/slog"
	"runtime/debug"

	"AgentSim/pkg/logger"
)

// Sink 接收仿真事件。实现不得阻塞轮次循环，也不得返回错误。
type Sink interface {
	LogSnapshot(SnapshotEvent)
	LogAction(ActionEvent)
	LogTransaction(TransactionEvent)
	LogDiscourse(DiscourseEvent)
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) LogSnapshot(SnapshotEvent)       {}
func (Nop) LogAction(ActionEvent)           {}
func (Nop) LogTransaction(TransactionEvent) {}
func (Nop) LogDiscourse(DiscourseEvent)     {}

// Fanout 将事件依次投递给多个 Sink，单个 Sink 的 panic 会被记录并隔离。
type Fanout struct {
	sinks []Sink
	log   *slog.Logger
}

// NewFanout 创建 Fanout，忽略 nil。
func NewFanout(sinks ...Sink) *Fanout {
	set := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			set = append(set, s)
		}
	}
	return &Fanout{sinks: set, log: logger.Named("export")}
}

// Len 返回已注册的 Sink 数量。
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

func (f *Fanout) each(event string, fn func(Sink)) {
	if f == nil {
		return
	}
	for _, s := range f.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.log.Error("导出事件失败", slog.String("event", event), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
				}
			}()
			fn(s)
		}()
	}
}

func (f *Fanout) LogSnapshot(e SnapshotEvent) {
	f.each(TypeSnapshot, func(s Sink) { s.LogSnapshot(e) })
}

func (f *Fanout) LogAction(e ActionEvent) {
	f.each(TypeAction, func(s Sink) { s.LogAction(e) })
}

func (f *Fanout) LogTransaction(e TransactionEvent) {
	f.each(TypeTransaction, func(s Sink) { s.LogTransaction(e) })
}

func (f *Fanout) LogDiscourse(e DiscourseEvent) {
	f.each(TypeDiscourse, func(s Sink) { s.LogDiscourse(e) })
}

// ConfigRecorder 由需要保存运行配置的 Sink 实现。
type ConfigRecorder interface {
	SetConfig(cfg map[string]any)
}

// SetConfig 把运行配置转发给实现了 ConfigRecorder 的 Sink。
func (f *Fanout) SetConfig(cfg map[string]any) {
	f.each("config", func(s Sink) {
		if r, ok := s.(ConfigRecorder); ok {
			r.SetConfig(cfg)
		}
	})
}

var (
	_ Sink           = Nop{}
	_ Sink           = (*Fanout)(nil)
	_ ConfigRecorder = (*Fanout)(nil)
	_ ConfigRecorder = (*Recorder)(nil)
)
