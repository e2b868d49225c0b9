package httpadapter

import "github.com/PabloGalante/chatlog/internal/domain"

// Wire types shared with internal/client. Sessions travel as domain.Session JSON.

type AskRequest struct {
	Question string `json:"question"`
}

type RenameRequest struct {
	NewTitle string `json:"new_title"`
	// LegacyNewTitle accepts the camelCase field older front ends send.
	LegacyNewTitle string `json:"newTitle,omitempty"`
}

func (r RenameRequest) Title() string {
	if r.NewTitle != "" {
		return r.NewTitle
	}
	return r.LegacyNewTitle
}

type CanCreateResponse struct {
	CanCreate bool `json:"can_create"`
}

type VerifyTokenResponse struct {
	Valid  bool   `json:"valid"`
	UserID string `json:"user_id"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx answer. Session is set when a failed ask left a
// pending question behind.
type ErrorResponse struct {
	Error     string          `json:"error"`
	Kind      domain.Kind     `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Session   *domain.Session `json:"session,omitempty"`
}
