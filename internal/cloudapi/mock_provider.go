package cloudapi

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
)

// MockCall records one invocation for test assertions, following the
// teacher's pkg/graph MockRecorder shape.
type MockCall struct {
	Method string
	Args   []any
}

// MockProvider is a scripted, in-memory Provider for tests: delta pages
// and file bytes are queued up front, calls are recorded, and downloads
// serve from an in-memory blob map. It is not safe to use as a general
// fake cloud — it exists only to drive deterministic sync/hydration
// tests the way the teacher's mock_graph.go drives FUSE tests.
type MockProvider struct {
	mu sync.Mutex

	DeltaPages []DeltaResponse // consumed in order, one per GetDelta call
	Blobs      map[string][]byte
	Metadata   map[string]*DeltaItem

	FailDownload map[string]error
	FailUpload   bool

	// BlockDownload, if non-nil, makes DownloadFile wait for either this
	// channel to close or ctx to be cancelled before serving bytes —
	// used by tests that need to exercise mid-download cancellation.
	BlockDownload chan struct{}

	calls []MockCall
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		Blobs:        make(map[string][]byte),
		Metadata:     make(map[string]*DeltaItem),
		FailDownload: make(map[string]error),
	}
}

func (m *MockProvider) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Args: args})
}

// Calls returns a snapshot of recorded calls, for assertions like
// "exactly one download_file invocation" (spec.md §8 scenario 2).
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) CountCalls(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (m *MockProvider) Authenticate(ctx context.Context, flow AuthFlow) (*Tokens, error) {
	m.record("Authenticate", flow.Kind)
	return &Tokens{AccessToken: "mock-access", RefreshToken: "mock-refresh"}, nil
}

func (m *MockProvider) RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error) {
	m.record("RefreshTokens", refreshToken)
	return &Tokens{AccessToken: "mock-access-2", RefreshToken: refreshToken}, nil
}

func (m *MockProvider) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	m.record("GetUserInfo")
	return &UserInfo{ID: "mock-user", Email: "mock@example.com"}, nil
}

// GetDelta pops the next scripted page. Calling past the end of
// DeltaPages returns an empty page with no links, so repeated polling
// after a full drain behaves like "nothing changed".
func (m *MockProvider) GetDelta(ctx context.Context, token string) (*DeltaResponse, error) {
	m.record("GetDelta", token)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.DeltaPages) == 0 {
		return &DeltaResponse{}, nil
	}
	page := m.DeltaPages[0]
	m.DeltaPages = m.DeltaPages[1:]
	return &page, nil
}

func (m *MockProvider) DownloadFile(ctx context.Context, remoteID string, w io.Writer) (uint64, error) {
	m.record("DownloadFile", remoteID)
	m.mu.Lock()
	block := m.BlockDownload
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	m.mu.Lock()
	failErr, shouldFail := m.FailDownload[remoteID]
	data := m.Blobs[remoteID]
	m.mu.Unlock()
	if shouldFail {
		return 0, failErr
	}
	n, err := w.Write(data)
	return uint64(n), err
}

func (m *MockProvider) UploadFile(ctx context.Context, parentRemotePath, name string, data []byte, ifMatchETag string) (*DeltaItem, error) {
	return m.upload("UploadFile", parentRemotePath, name, data)
}

func (m *MockProvider) UploadFileSession(ctx context.Context, parentRemotePath, name string, data []byte, ifMatchETag string) (*DeltaItem, error) {
	return m.upload("UploadFileSession", parentRemotePath, name, data)
}

func (m *MockProvider) upload(method, parentRemotePath, name string, data []byte) (*DeltaItem, error) {
	m.record(method, parentRemotePath, name, len(data))
	if m.FailUpload {
		return nil, lnxerrors.NewNetworkError("mock upload failure", nil)
	}
	id := fmt.Sprintf("mock-%s/%s", parentRemotePath, name)
	hash := QuickXorHashBytes(data)
	item := &DeltaItem{
		ID:   id,
		Name: name,
		Path: parentRemotePath + "/" + name,
		Size: uint64(len(data)),
		Hash: hash,
	}
	m.mu.Lock()
	m.Blobs[id] = append([]byte(nil), data...)
	m.Metadata[id] = item
	m.mu.Unlock()
	return item, nil
}

func (m *MockProvider) GetMetadata(ctx context.Context, remoteID string) (*DeltaItem, error) {
	m.record("GetMetadata", remoteID)
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.Metadata[remoteID]
	if !ok {
		return nil, lnxerrors.NewNotFoundError("remote item not found: "+remoteID, nil)
	}
	return item, nil
}

func (m *MockProvider) DeleteItem(ctx context.Context, remoteID string) error {
	m.record("DeleteItem", remoteID)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Blobs, remoteID)
	delete(m.Metadata, remoteID)
	return nil
}

// SetBlob seeds content for a remote id, used by hydration tests that
// need DownloadFile to return specific bytes.
func (m *MockProvider) SetBlob(remoteID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blobs[remoteID] = data
}

var _ Provider = (*MockProvider)(nil)
