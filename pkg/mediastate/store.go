package mediastate

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultMaxEntries = 1000

// Store holds the latest media state per participant. With a zero ttl
// entries never age out; otherwise an entry is dropped ttl after its last
// update.
type Store struct {
	lock    sync.Mutex
	entries *expirable.LRU[ID, ParticipantMediaState]
	now     func() time.Time
}

func NewStore(maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		entries: expirable.NewLRU[ID, ParticipantMediaState](maxEntries, nil, ttl),
		now:     time.Now,
	}
}

// Merge replaces the entry for msg.UserID. Only the display name survives
// from the previous entry, and only when msg carries none.
func (s *Store) Merge(msg Message) ParticipantMediaState {
	s.lock.Lock()
	defer s.lock.Unlock()

	state := ParticipantMediaState{
		UserID:          msg.UserID,
		DisplayName:     msg.Display,
		AudioOn:         msg.Audio,
		VideoOn:         msg.Video,
		VideoDeviceLost: msg.VideoDeviceLost,
		LastUpdated:     s.now(),
	}
	if state.DisplayName == "" {
		if prev, ok := s.entries.Peek(msg.UserID); ok {
			state.DisplayName = prev.DisplayName
		}
	}
	s.entries.Add(msg.UserID, state)
	return state
}

func (s *Store) Get(userID ID) (ParticipantMediaState, bool) {
	return s.entries.Get(userID)
}

// List returns every live entry ordered by user id.
func (s *Store) List() []ParticipantMediaState {
	states := s.entries.Values()
	sort.Slice(states, func(i, j int) bool {
		return states[i].UserID < states[j].UserID
	})
	return states
}

func (s *Store) Len() int {
	return s.entries.Len()
}

func (s *Store) Purge() {
	s.entries.Purge()
}
