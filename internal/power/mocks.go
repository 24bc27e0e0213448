package power

import (
	"context"
	"net/http"
	"sync"
)

// MockWolSender is a mock implementation of WolSender
type MockWolSender struct {
	mu sync.Mutex

	WakeCalled    bool
	WakeCallCount int
	LastMAC       string
	LastAddr      string
	ReturnError   error
}

func (m *MockWolSender) Wake(_ context.Context, macAddress string, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WakeCalled = true
	m.WakeCallCount++
	m.LastMAC = macAddress
	m.LastAddr = addr
	return m.ReturnError
}

func (m *MockWolSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.WakeCallCount
}

// MockSSHClient is a mock implementation of SSHClient
type MockSSHClient struct {
	mu sync.Mutex

	RunCalled    bool
	RunCallCount int
	LastTarget   SSHTarget
	LastCommand  string
	ExitStatus   int
	ReturnError  error
	// Block, when set, is waited on before returning; cancellation of the
	// caller's context ends the wait with ctx.Err().
	Block chan struct{}
}

func (m *MockSSHClient) Run(ctx context.Context, target SSHTarget, command string) (int, error) {
	m.mu.Lock()
	m.RunCalled = true
	m.RunCallCount++
	m.LastTarget = target
	m.LastCommand = command
	block, status, err := m.Block, m.ExitStatus, m.ReturnError
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	return status, err
}

func (m *MockSSHClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RunCallCount
}

// MockHTTPDoer records requests and answers with StatusCode or ReturnError.
type MockHTTPDoer struct {
	mu sync.Mutex

	Requests    []*http.Request
	StatusCode  int
	ReturnError error
}

func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.ReturnError != nil {
		return nil, m.ReturnError
	}
	code := m.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	return &http.Response{
		StatusCode: code,
		Status:     http.StatusText(code),
		Body:       http.NoBody,
		Request:    req,
	}, nil
}

func (m *MockHTTPDoer) URLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	urls := make([]string, 0, len(m.Requests))
	for _, r := range m.Requests {
		urls = append(urls, r.URL.String())
	}
	return urls
}

// MockPinger is a mock implementation of Pinger
type MockPinger struct {
	mu sync.Mutex

	Reachable     bool
	ReturnError   error
	LastAddress   string
	PingCallCount int
	// Hang makes IsReachable wait for context cancellation, like a probe
	// against a host that never answers.
	Hang bool
}

func (m *MockPinger) IsReachable(ctx context.Context, address string) (bool, error) {
	m.mu.Lock()
	m.PingCallCount++
	m.LastAddress = address
	reachable, err, hang := m.Reachable, m.ReturnError, m.Hang
	m.mu.Unlock()

	if hang {
		<-ctx.Done()
		return false, nil
	}
	return reachable, err
}

func (m *MockPinger) SetReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reachable = reachable
}

func (m *MockPinger) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PingCallCount
}
