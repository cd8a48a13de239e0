package server

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"oaiviewer/internal/models"
)

// SessionCookie carries the session id of a browser
const SessionCookie = "oaiviewer_session"

const sessionKey = "session"

// SessionStore keeps the selection of every browser session in memory.
// Handlers work on copies and store the result back with Put.
type SessionStore struct {
	mu         sync.RWMutex
	selections map[uuid.UUID]models.Selection
	initial    models.Selection
}

// NewSessionStore creates a store handing out initial to new sessions
func NewSessionStore(initial models.Selection) *SessionStore {
	return &SessionStore{
		selections: make(map[uuid.UUID]models.Selection),
		initial:    initial,
	}
}

// Get returns the selection of a session, the initial one if it has none yet
func (s *SessionStore) Get(id uuid.UUID) models.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sel, ok := s.selections[id]; ok {
		return sel
	}
	return s.initial
}

// Put replaces the selection of a session
func (s *SessionStore) Put(id uuid.UUID, sel models.Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[id] = sel
}

// Delete forgets a session
func (s *SessionStore) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selections, id)
}

// Len is the number of sessions with a stored selection
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.selections)
}

// sessionMiddleware reads the session cookie or issues a new one
func sessionMiddleware(c *gin.Context) {
	id, err := uuid.Parse(cookieValue(c))
	if err != nil {
		id = uuid.New()
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     SessionCookie,
			Value:    id.String(),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	c.Set(sessionKey, id)
	c.Next()
}

func cookieValue(c *gin.Context) string {
	v, err := c.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return v
}

func sessionID(c *gin.Context) uuid.UUID {
	return c.MustGet(sessionKey).(uuid.UUID)
}
