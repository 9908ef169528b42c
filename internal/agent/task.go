package agent

import "context"

// Task 表示一次已派发的生命周期信号，调用方可等待其完成。
type Task struct {
	name string
	done chan struct{}
	err  error
}

func newTask(name string) *Task {
	return &Task{name: name, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Name 返回信号名称，例如 "install"、"activate"。
func (t *Task) Name() string {
	return t.name
}

// Done 在任务结束后关闭。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err 返回任务结果；任务未结束时返回 nil。
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait 阻塞直到任务结束或 ctx 被取消。ctx 取消不会中止任务本身。
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
