package core

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Context identifies the origin of a change so that events, state writes and
// service calls caused by one request can be correlated.
type Context struct {
	ID       string
	UserID   string
	ParentID string
}

// NewContext returns a Context with a fresh id.
func NewContext(userID, parentID string) Context {
	return Context{
		ID:       uuid.NewString(),
		UserID:   userID,
		ParentID: parentID,
	}
}

// MarshalJSON renders empty user and parent ids as null.
func (c Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string  `json:"id"`
		ParentID *string `json:"parent_id"`
		UserID   *string `json:"user_id"`
	}{
		ID:       c.ID,
		ParentID: nullable(c.ParentID),
		UserID:   nullable(c.UserID),
	})
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (c *Context) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string  `json:"id"`
		ParentID *string `json:"parent_id"`
		UserID   *string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.ParentID = deref(raw.ParentID)
	c.UserID = deref(raw.UserID)
	return nil
}

// contextOrNew returns *origin, or a fresh context when origin is nil.
func contextOrNew(origin *Context) Context {
	if origin == nil || origin.ID == "" {
		return NewContext("", "")
	}
	return *origin
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
