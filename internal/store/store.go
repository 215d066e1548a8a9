package store

import "github.com/egeucak/api-doc-gpt/pkg/types"

// Session statuses.
const (
	StatusActive = "active"
	StatusClosed = "closed"
	StatusFailed = "failed"
)

type Store interface {
	CreateSession(agent, source, baseURL, model string) (*types.Session, error)
	GetSession(id string) (*types.Session, error)
	UpdateSessionStatus(id, status string) error
	AddUsage(id string, tokens int) error
	ListSessions() ([]types.Session, error)
	DeleteSession(id string) error

	AppendTurn(sessionID, role, content string) (*types.StoredTurn, error)
	GetTurns(sessionID string) ([]types.StoredTurn, error)

	Close() error
}
