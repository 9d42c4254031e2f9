package telegram

import (
	"sync"

	"github.com/digkill/TGVideoBot/internal/models"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingFormat
	StateAwaitingAspect
	StateAwaitingPrompt
	StateAwaitingReference
	StateAwaitingCount
	StateChatting
	StateAwaitingTopupAmount
)

// Session tracks where a chat is inside the video wizard or the free-chat
// mode. It lives in memory only; a restart drops everyone back to idle.
type Session struct {
	State         SessionState
	Model         models.VideoModel
	AspectRatio   string
	Prompt        string
	ReferenceURLs []string
}

type StateManager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

func NewStateManager() *StateManager {
	return &StateManager{
		sessions: make(map[int64]*Session),
	}
}

func (m *StateManager) Get(chatID int64) *Session {
	m.mu.RLock()
	session, ok := m.sessions[chatID]
	m.mu.RUnlock()
	if ok {
		return session
	}
	return &Session{State: StateIdle}
}

func (m *StateManager) Set(chatID int64, session *Session) {
	m.mu.Lock()
	m.sessions[chatID] = session
	m.mu.Unlock()
}

func (m *StateManager) Reset(chatID int64) {
	m.Set(chatID, &Session{State: StateIdle})
}
