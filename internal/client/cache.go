package client

import (
	"slices"

	"github.com/PabloGalante/chatlog/internal/domain"
)

// MergeSession returns a new list with s replacing the entry of the same id, or prepended
// when absent, sorted newest first. list is not modified.
func MergeSession(list []*domain.Session, s *domain.Session) []*domain.Session {
	out := make([]*domain.Session, 0, len(list)+1)
	if s != nil {
		out = append(out, s.Clone())
	}
	for _, cur := range list {
		if cur == nil || (s != nil && cur.ID == s.ID) {
			continue
		}
		out = append(out, cur)
	}
	domain.SortNewestFirst(out)
	return out
}

// RemoveSession returns a new list without id.
func RemoveSession(list []*domain.Session, id domain.SessionID) []*domain.Session {
	out := make([]*domain.Session, 0, len(list))
	for _, cur := range list {
		if cur != nil && cur.ID != id {
			out = append(out, cur)
		}
	}
	return out
}

// FindSession returns the cached entry for id, or nil.
func FindSession(list []*domain.Session, id domain.SessionID) *domain.Session {
	i := slices.IndexFunc(list, func(s *domain.Session) bool { return s != nil && s.ID == id })
	if i < 0 {
		return nil
	}
	return list[i]
}
