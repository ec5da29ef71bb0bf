package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xxxsen/pdfqa/internal/model"
	appErr "github.com/xxxsen/pdfqa/internal/pkg/errors"
	"github.com/xxxsen/pdfqa/internal/repo"
)

type SessionService struct {
	sessions *repo.SessionRepo
	now      func() time.Time
	// serializes history read-modify-write
	historyMu sync.Mutex
}

func NewSessionService(sessions *repo.SessionRepo) *SessionService {
	return &SessionService{sessions: sessions, now: time.Now}
}

type CreateSessionInput struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Name     string `json:"session_name"`
}

func (s *SessionService) Create(ctx context.Context, input CreateSessionInput) (*model.ChatSession, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", appErr.ErrInvalid)
	}
	now := s.now()
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "Session " + now.Format("2006-01-02 15:04")
	}
	session := &model.ChatSession{
		ID:              uuid.NewString(),
		UserID:          userID,
		UserName:        input.UserName,
		Name:            name,
		History:         []model.ChatTurn{},
		Metadata:        map[string]interface{}{},
		LastInteraction: now.UnixMilli(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns the user's sessions, most recent first. Unnamed sessions
// are labelled with the head of their id.
func (s *SessionService) List(ctx context.Context, userID string) ([]model.ChatSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", appErr.ErrInvalid)
	}
	items, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Name == "" {
			items[i].Name = shortID(items[i].ID)
		}
	}
	return items, nil
}

func (s *SessionService) Get(ctx context.Context, sessionID string) (*model.ChatSession, error) {
	return s.sessions.GetByID(ctx, sessionID)
}

func (s *SessionService) UpdateHistory(ctx context.Context, sessionID string, history []model.ChatTurn) error {
	for i, turn := range history {
		if turn.Role != model.RoleUser && turn.Role != model.RoleAssistant {
			return fmt.Errorf("%w: chat_history[%d] has unknown role %q", appErr.ErrInvalid, i, turn.Role)
		}
	}
	if history == nil {
		history = []model.ChatTurn{}
	}
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return s.sessions.UpdateHistory(ctx, sessionID, history, s.now().UnixMilli())
}

func (s *SessionService) UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return s.sessions.UpdateMetadata(ctx, sessionID, metadata, s.now().UnixMilli())
}

// AppendExchange records one question and its answer on the session.
func (s *SessionService) AppendExchange(ctx context.Context, sessionID, question, answer string) error {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	history := append(session.History,
		model.ChatTurn{Role: model.RoleUser, Content: question},
		model.ChatTurn{Role: model.RoleAssistant, Content: answer},
	)
	return s.sessions.UpdateHistory(ctx, sessionID, history, s.now().UnixMilli())
}

func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
