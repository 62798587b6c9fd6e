package chat

import "sync"

// Registry indexes live sessions by session ID and chat ID.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byChat map[string][]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byChat: make(map[string][]*Session),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.id] = s
	r.byChat[s.chatID] = append(r.byChat[s.chatID], s)
}

func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID[s.id] != s {
		return
	}
	delete(r.byID, s.id)
	list := r.byChat[s.chatID]
	for i, cur := range list {
		if cur == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byChat, s.chatID)
	} else {
		r.byChat[s.chatID] = list
	}
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// ByChatID returns the newest session of chatID that has not been
// replaced.
func (r *Registry) ByChatID(chatID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byChat[chatID]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].PendingRemoval() {
			return list[i], true
		}
	}
	return nil, false
}

// ByContributionID returns the live session carrying contributionID.
func (r *Registry) ByContributionID(contributionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.contributionID == contributionID && !s.PendingRemoval() {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
