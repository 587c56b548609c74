// Package executor owns one task's input stream, output bins, and its
// fan-out of socket sessions: it is the top-level coordinator the crawler
// binary drives per task.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drsoft-oss/numbercheck/internal/numstream"
	"github.com/drsoft-oss/numbercheck/internal/proxyrepo"
	"github.com/drsoft-oss/numbercheck/internal/siteadapter"
	"github.com/drsoft-oss/numbercheck/internal/socket"
	"github.com/drsoft-oss/numbercheck/internal/store"
)

// Config wires together everything one task run needs.
type Config struct {
	Task        store.Task
	Store       store.TaskStore
	ProxyConfig ProxyConfig
	Vendor      proxyrepo.Vendor
	Hub         *proxyrepo.Hub
	WorkDir     string // base directory for bin files (./over by default)

	// Resume selects the resume path: WorkingPath is then the
	// already-trimmed working input of a previously stopped task. When
	// Resume is false, Inputs below are concatenated into a fresh working
	// file instead.
	Resume        bool
	WorkingPath   string
	Inputs        []string
	InputWorkDir  string // directory new working files are created in
}

// Executor runs one task to completion or stop.
type Executor struct {
	cfg       Config
	stream    *numstream.Stream
	streamFile *os.File
	repo      *proxyrepo.Repository
	adapter   siteadapter.Adapter
	transport socket.Transport
	handshake socket.ProxyHandshake
	bins      *BinSet

	workingPath string
	total       int64

	processed, ok, ok2, notOK, unknown atomic.Int64
	sinceCheckpoint                    atomic.Int64
	checkpointEvery                    int64

	stopOnce sync.Once
	stopped  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	statusMu    sync.Mutex
	finalStatus store.TaskStatus
}

// New builds an Executor: concatenates/reuses the working input, opens
// bin files, and instantiates the proxy repository and site adapter. It
// does not start any socket sessions yet — call Run for that.
func New(cfg Config) (*Executor, error) {
	var workingPath string
	var total int64
	var err error

	if cfg.Resume {
		workingPath = cfg.WorkingPath
		total, err = CountLines(workingPath)
		if err != nil {
			return nil, err
		}
	} else {
		dir := cfg.InputWorkDir
		if dir == "" {
			dir = "./work"
		}
		workingPath, total, err = ConcatenateInputs(dir, cfg.Inputs)
		if err != nil {
			return nil, err
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("executor: zero-total input for task %d", cfg.Task.ID)
	}

	f, err := os.Open(workingPath)
	if err != nil {
		return nil, fmt.Errorf("executor: open working file: %w", err)
	}
	stream := numstream.New(f)

	baseDir := cfg.WorkDir
	if baseDir == "" {
		baseDir = "./over"
	}
	alias := fmt.Sprintf("site_%d", cfg.Task.WebsiteID)
	bins, err := OpenBins(baseDir, alias, time.Now())
	if err != nil {
		f.Close()
		return nil, err
	}

	kind := DetectSiteKind(cfg.ProxyConfig.Target)
	adapter, transport, err := BuildAdapter(kind, cfg.ProxyConfig.Target, cfg.ProxyConfig.Username)
	if err != nil {
		f.Close()
		bins.Close()
		return nil, err
	}
	handshake := BuildHandshake(cfg.ProxyConfig.Protocol)

	repo, err := proxyrepo.New(proxyrepo.Config{
		ThreadID:       int(cfg.Task.ID),
		SiteID:         int(cfg.Task.WebsiteID),
		Protocol:       cfg.ProxyConfig.RepoProtocol(),
		PersistPath:    cfg.ProxyConfig.PersistPath(),
		PerFetch:       int(cfg.ProxyConfig.PerFetch),
		Share:          cfg.ProxyConfig.Share,
		MinutesAllowed: proxyrepo.MinutesAllowed,
	}, cfg.Vendor, cfg.Hub)
	if err != nil {
		f.Close()
		bins.Close()
		return nil, err
	}

	socketCount := int64(cfg.ProxyConfig.SocketCount)
	if socketCount <= 0 {
		socketCount = 1
	}

	return &Executor{
		cfg:             cfg,
		stream:          stream,
		streamFile:      f,
		repo:            repo,
		adapter:         adapter,
		transport:       transport,
		handshake:       handshake,
		bins:            bins,
		workingPath:     workingPath,
		total:           total,
		checkpointEvery: socketCount,
	}, nil
}

// Run spawns socket_count sessions and blocks until every one of them
// terminates (input exhausted, proxy pool drained, or Stop called).
func (e *Executor) Run(ctx context.Context) store.TaskStatus {
	ctx, e.cancel = context.WithCancel(ctx)
	defer e.cancel()

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := e.cfg.Store.SetStatus(startCtx, e.cfg.Task.ID, store.Ongoing, e.processed.Load(), 0); err != nil {
		log.Printf("[executor] ongoing status update failed for task %d: %v", e.cfg.Task.ID, err)
	}
	cancel()

	socketCount := e.checkpointEvery
	e.wg.Add(int(socketCount))
	for i := int64(0); i < socketCount; i++ {
		sess := &socket.Session{
			Transport: e.transport,
			Handshake: e.handshake,
			Adapter:   e.adapter,
			Stream:    e.stream,
			Repo:      e.repo,
			OnResult:  e.onResult,
		}
		go func() {
			defer e.wg.Done()
			sess.Run(ctx)
		}()
	}
	e.wg.Wait()

	status := e.getFinalStatus()
	if status == 0 && e.stream.Empty() {
		status = store.Completed
	} else if status == 0 {
		status = store.Stopped
	}
	e.finish(status)
	return status
}

// Stop requests every running session to halt; in-flight numbers are
// pushed back onto the stream by each session before it exits.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		if e.cancel != nil {
			e.cancel()
		}
	})
}

func (e *Executor) onResult(r socket.Result) {
	if r.Outcome.Classification == siteadapter.RequestStop {
		e.setFinalStatus(store.AutoStopped)
		e.Stop()
		return
	}

	processed := e.processed.Add(1)
	if err := e.bins.Route(r.Number, r.Outcome.Classification); err != nil {
		log.Printf("[executor] bin write failed for task %d: %v", e.cfg.Task.ID, err)
	}
	switch r.Outcome.Classification {
	case siteadapter.Registered:
		e.ok.Add(1)
	case siteadapter.Registered2:
		e.ok2.Add(1)
	case siteadapter.NotRegistered:
		e.notOK.Add(1)
	default:
		e.unknown.Add(1)
	}

	if e.sinceCheckpoint.Add(1) >= e.checkpointEvery {
		e.sinceCheckpoint.Store(0)
		e.checkpoint()
	}

	if processed > e.total+10 {
		log.Printf("[executor] task %d: processed %d exceeds total %d by more than 10, corruption heuristic tripped", e.cfg.Task.ID, processed, e.total)
		e.setFinalStatus(store.AutoStopped)
		e.Stop()
	}
}

func (e *Executor) setFinalStatus(s store.TaskStatus) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if e.finalStatus == 0 {
		e.finalStatus = s
	}
}

func (e *Executor) getFinalStatus() store.TaskStatus {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.finalStatus
}

func (e *Executor) checkpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := e.cfg.Store.UpdateProgress(ctx, e.cfg.Task.ID, e.processed.Load(), e.ok.Load(), e.notOK.Load(), e.unknown.Load())
	if err != nil {
		// Per the error-handling design, a checkpoint failure is logged
		// and absorbed: the task keeps running and the counter simply
		// stalls until the next checkpoint succeeds.
		log.Printf("[executor] checkpoint failed for task %d: %v", e.cfg.Task.ID, err)
	}
}

func (e *Executor) finish(status store.TaskStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.cfg.Store.SetStatus(ctx, e.cfg.Task.ID, status, e.processed.Load(), 0); err != nil {
		log.Printf("[executor] final status update failed for task %d: %v", e.cfg.Task.ID, err)
	}
	e.repo.Close()
	e.bins.Close()
	e.streamFile.Close()

	if status == store.Completed {
		if err := DeleteWorkingFile(e.workingPath); err != nil {
			log.Printf("[executor] delete working file failed for task %d: %v", e.cfg.Task.ID, err)
		}
	}
}
