// Package cloudapi defines component J of spec.md §4: the CloudProvider
// port contract and its supporting types, grounded in the teacher's
// pkg/graph package (the same shape of operations — delta, content
// stream, upload sessions, metadata — against a different underlying
// transport type).
package cloudapi

import (
	"context"
	"io"
	"time"

	"golang.org/x/oauth2"
)

// Tokens reuses oauth2.Token as-is: the teacher authenticates against
// Microsoft Graph with golang.org/x/oauth2's device/auth-code flows, and
// the spec's Tokens shape (access token, refresh token, expiry) is
// exactly what oauth2.Token already carries.
type Tokens = oauth2.Token

// AuthFlow selects which OAuth2 flow authenticate should run. The actual
// interactive/PKCE exchange is a collaborator boundary (spec.md §1) — a
// concrete Provider only needs to know which flow produced the code it is
// asked to exchange.
type AuthFlow struct {
	Kind string // "device_code" | "authorization_code"
	Code string
}

// UserInfo is returned by get_user_info.
type UserInfo struct {
	ID          string
	Email       string
	DisplayName string
	QuotaUsed   uint64
	QuotaTotal  uint64
}

// DeltaItem mirrors one row of a delta response, per spec.md §4.J.
// Hash is quickXorHash, base64-encoded (28 characters), matching
// ContentHash/LocalHash on domain.SyncItem.
type DeltaItem struct {
	ID          string
	Name        string
	Path        string
	Size        uint64
	Modified    time.Time
	Hash        string
	IsDirectory bool
	IsDeleted   bool
	ETag        string
}

// DeltaResponse is one page of a delta query. Exactly one of NextLink or
// DeltaLink is set: NextLink means more pages remain, DeltaLink means
// this is the final page and the link should be saved as the account's
// new delta_token.
type DeltaResponse struct {
	Items     []DeltaItem
	NextLink  string
	DeltaLink string
}

// Provider is the CloudProvider port (spec.md §4.J). Implementations are
// responsible for rate-limit respect, auth header injection, and chunk
// upload bookkeeping; the engine treats this strictly as a transport.
type Provider interface {
	Authenticate(ctx context.Context, flow AuthFlow) (*Tokens, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error)
	GetUserInfo(ctx context.Context) (*UserInfo, error)

	// GetDelta fetches one page. token is empty to force a full sync.
	GetDelta(ctx context.Context, token string) (*DeltaResponse, error)

	// DownloadFile streams remote_id's bytes into w, honoring ctx
	// cancellation mid-stream (spec.md §5 "Hydration carries a
	// cancellation token").
	DownloadFile(ctx context.Context, remoteID string, w io.Writer) (size uint64, err error)

	// UploadFile does a single-request PUT for small files (< 4 MiB).
	UploadFile(ctx context.Context, parentRemotePath, name string, data []byte, ifMatchETag string) (*DeltaItem, error)

	// UploadFileSession performs a resumable upload in chunks for large
	// files, per spec.md §4.I (10 MiB chunks, multiple of 320 KiB).
	UploadFileSession(ctx context.Context, parentRemotePath, name string, data []byte, ifMatchETag string) (*DeltaItem, error)

	GetMetadata(ctx context.Context, remoteID string) (*DeltaItem, error)
	DeleteItem(ctx context.Context, remoteID string) error
}

// SmallFileThreshold is the small-vs-resumable upload cutoff from
// spec.md §4.I.
const SmallFileThreshold = 4 * 1024 * 1024

// UploadChunkSize is the resumable-session chunk size (must stay a
// multiple of 320 KiB per spec.md §4.I).
const UploadChunkSize = 10 * 1024 * 1024
