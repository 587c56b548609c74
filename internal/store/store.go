// Package store defines the persistence boundary the task executor and
// the healer depend on: a small TaskStore interface plus the Task record
// it carries. The concrete SQLite-backed implementation lives alongside
// it in this package; callers outside it use the interface, except the
// crawler's startup resume scan, which calls ListTaskIDsByStatus on the
// concrete SQLiteStore.
package store

import "context"

// TaskStatus is the lifecycle state of one task record.
type TaskStatus int

const (
	NotStarted TaskStatus = iota
	Ongoing
	Stopped
	Erred
	Completed
	AutoStopped
)

func (s TaskStatus) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Ongoing:
		return "Ongoing"
	case Stopped:
		return "Stopped"
	case Erred:
		return "Erred"
	case Completed:
		return "Completed"
	case AutoStopped:
		return "AutoStopped"
	default:
		return "Unknown"
	}
}

// Task mirrors tb_tasks column-for-column.
type Task struct {
	ID             int64
	WebsiteID      int64
	Processed      int64
	TotalNumbers   int64
	InputFilename  string
	OKFile         string
	NotOKFile      string
	UnknownFile    string
	OK2File        string
	OKCount        int64
	NotOKCount     int64
	UnknownCount   int64
	PerIP          int64
	IPUsed         int64
	Status         TaskStatus
	WebsiteAddress string
}

// TaskStore is the only persistence surface the core depends on. SQL
// parameterisation is the implementation's job; no caller ever formats
// raw SQL.
type TaskStore interface {
	CreateTask(ctx context.Context, t Task) (id int64, err error)
	GetTask(ctx context.Context, id int64) (Task, error)
	GetStoppedTasks(ctx context.Context, ids []int64) ([]Task, error)
	UpdateProgress(ctx context.Context, id int64, processed, okCount, notOKCount, unknownCount int64) error
	SetStatus(ctx context.Context, id int64, status TaskStatus, processed, ipUsed int64) error
}
