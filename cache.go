package peers

import (
	"time"

	"github.com/maxbolgarin/errm"
	"github.com/maypok86/otter"
)

// hashCache remembers IDs of records that already have a hash in DB.
// Hash never changes after it is set, so a cached value never becomes wrong while the record exists.
type hashCache struct {
	users otter.Cache[int64, string]
	chats otter.Cache[int64, string]
}

func newHashCache(capacity int, ttl time.Duration) (*hashCache, error) {
	users, err := otter.MustBuilder[int64, string](capacity).WithTTL(ttl).Build()
	if err != nil {
		return nil, errm.Wrap(err, "users cache", "capacity", capacity)
	}
	chats, err := otter.MustBuilder[int64, string](capacity).WithTTL(ttl).Build()
	if err != nil {
		return nil, errm.Wrap(err, "chats cache", "capacity", capacity)
	}
	return &hashCache{users: users, chats: chats}, nil
}

func (c *hashCache) userHash(id int64) (string, bool) {
	return c.users.Get(id)
}

func (c *hashCache) setUserHash(id int64, hash string) {
	if hash != "" {
		c.users.Set(id, hash)
	}
}

func (c *hashCache) chatHash(id int64) (string, bool) {
	return c.chats.Get(id)
}

func (c *hashCache) setChatHash(id int64, hash string) {
	if hash != "" {
		c.chats.Set(id, hash)
	}
}

func (c *hashCache) deleteChat(id int64) {
	c.chats.Delete(id)
}
