package executor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drsoft-oss/numbercheck/internal/proxypool"
	"github.com/drsoft-oss/numbercheck/internal/store"
)

type memStore struct {
	mu    sync.Mutex
	tasks map[int64]store.Task
}

func newMemStore() *memStore { return &memStore{tasks: make(map[int64]store.Task)} }

func (m *memStore) CreateTask(ctx context.Context, t store.Task) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = int64(len(m.tasks) + 1)
	m.tasks[t.ID] = t
	return t.ID, nil
}

func (m *memStore) GetTask(ctx context.Context, id int64) (store.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id], nil
}

func (m *memStore) GetStoppedTasks(ctx context.Context, ids []int64) ([]store.Task, error) {
	return nil, nil
}

func (m *memStore) UpdateProgress(ctx context.Context, id int64, processed, okCount, notOKCount, unknownCount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	t.Processed, t.OKCount, t.NotOKCount, t.UnknownCount = processed, okCount, notOKCount, unknownCount
	m.tasks[id] = t
	return nil
}

func (m *memStore) SetStatus(ctx context.Context, id int64, status store.TaskStatus, processed, ipUsed int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	t.Status, t.Processed, t.IPUsed = status, processed, ipUsed
	m.tasks[id] = t
	return nil
}

// rawServer answers requests for 13800000001 with status 404 and every
// other request with 200, simulating WatchHome's status-only
// classification against /user/exists/<number>.
func rawServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				for {
					h, err := r.ReadString('\n')
					if err != nil || h == "\r\n" {
						break
					}
				}
				status := 200
				if strings.Contains(line, "13800000001") {
					status = 404
				}
				fmt.Fprintf(c, "HTTP/1.1 %d X\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", status)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestExecutor_HappyPath(t *testing.T) {
	addr := rawServer(t)
	host, portStr, _ := net.SplitHostPort(addr)
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "in.txt")
	os.WriteFile(inputPath, []byte("13800000001\n13800000002\n"), 0o644)

	st := newMemStore()
	taskID, err := st.CreateTask(context.Background(), store.Task{WebsiteID: 1, Status: store.NotStarted})
	if err != nil {
		t.Fatal(err)
	}
	task, _ := st.GetTask(context.Background(), taskID)

	exec, err := New(Config{
		Task:  task,
		Store: st,
		ProxyConfig: ProxyConfig{
			Target:      "watchhome.example",
			Protocol:    1, // http/NoHandshake
			SocketCount: 2,
		},
		WorkDir:      filepath.Join(dir, "over"),
		Inputs:       []string{inputPath},
		InputWorkDir: filepath.Join(dir, "work"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	exec.repo.Pool().Append(&proxypool.Proxy{Host: host, Port: port})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := exec.Run(ctx)

	if status != store.Completed {
		t.Fatalf("status = %v, want Completed", status)
	}
	if exec.processed.Load() != 2 {
		t.Fatalf("processed = %d, want 2", exec.processed.Load())
	}
	if exec.ok.Load() != 1 || exec.notOK.Load() != 1 {
		t.Fatalf("ok=%d notOK=%d, want 1/1", exec.ok.Load(), exec.notOK.Load())
	}

	finalTask, _ := st.GetTask(context.Background(), taskID)
	if finalTask.Status != store.Completed {
		t.Fatalf("store status = %v, want Completed", finalTask.Status)
	}
}
