package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/indiana-oracle/backend/internal/logging"
	"github.com/zhouzirui/indiana-oracle/backend/internal/model/persona"
)

// DefaultResourceTimeout bounds one voice+avatar load.
const DefaultResourceTimeout = 20 * time.Second

// BindingCache loads persona bindings with at most one in-flight load per
// persona id. Callers arriving during a load wait for its result. When
// caching is enabled only complete bindings are stored and they live for the
// life of the process. Without caching, every binding a caller receives must
// be handed back through Release.
type BindingCache struct {
	voices  VoiceLoader
	avatars AvatarLoader
	timeout time.Duration
	cache   bool

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]persona.Binding
	// holders counts callers holding each avatar token; a shared load hands
	// the same token to every waiter.
	holders map[string]int
}

func NewBindingCache(voices VoiceLoader, avatars AvatarLoader, timeout time.Duration, cache bool) *BindingCache {
	if timeout <= 0 {
		timeout = DefaultResourceTimeout
	}
	return &BindingCache{
		voices:  voices,
		avatars: avatars,
		timeout: timeout,
		cache:   cache,
		entries: make(map[string]persona.Binding),
		holders: make(map[string]int),
	}
}

// Load returns a complete binding for p. The shared load is detached from
// ctx so one caller leaving does not fail the others; ctx only bounds how
// long this caller waits.
func (c *BindingCache) Load(ctx context.Context, p persona.Persona) (persona.Binding, error) {
	if c.cache {
		c.mu.RLock()
		b, ok := c.entries[p.ID]
		c.mu.RUnlock()
		if ok {
			return b, nil
		}
	}

	ch := c.group.DoChan(p.ID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		b, err := c.load(loadCtx, p)
		if err != nil {
			return persona.Binding{}, err
		}
		if c.cache {
			c.mu.Lock()
			c.entries[p.ID] = b
			c.mu.Unlock()
		}
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return persona.Binding{}, res.Err
		}
		b := res.Val.(persona.Binding)
		c.hold(b)
		return b, nil
	case <-ctx.Done():
		if !c.cache {
			// Nobody may be left to take the result; hold and hand it back so
			// an unclaimed avatar is still released.
			go func() {
				if res := <-ch; res.Err == nil {
					b := res.Val.(persona.Binding)
					c.hold(b)
					c.Release(b)
				}
			}()
		}
		return persona.Binding{}, ctx.Err()
	}
}

// Release hands back a binding obtained from Load. The avatar is released
// once its last holder lets go. Cached and unready bindings are left alone.
func (c *BindingCache) Release(b persona.Binding) {
	token := b.Avatar.Token
	if c.cache || token == "" {
		return
	}
	c.mu.Lock()
	c.holders[token]--
	last := c.holders[token] <= 0
	if last {
		delete(c.holders, token)
	}
	c.mu.Unlock()
	if last {
		c.releaseAvatar(b.Avatar, "release avatar")
	}
}

func (c *BindingCache) hold(b persona.Binding) {
	if c.cache || b.Avatar.Token == "" {
		return
	}
	c.mu.Lock()
	c.holders[b.Avatar.Token]++
	c.mu.Unlock()
}

func (c *BindingCache) load(ctx context.Context, p persona.Persona) (persona.Binding, error) {
	var (
		voice    persona.VoiceHandle
		avatar   persona.AvatarHandle
		acquired bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := c.voices.LoadVoice(gctx, p)
		if err != nil {
			return &PersonaLoadError{PersonaID: p.ID, Resource: "voice", Err: err}
		}
		voice = v
		return nil
	})
	g.Go(func() error {
		a, err := c.avatars.LoadAvatar(gctx, p)
		if err != nil {
			return &PersonaLoadError{PersonaID: p.ID, Resource: "avatar", Err: err}
		}
		avatar = a
		acquired = true
		return nil
	})

	if err := g.Wait(); err != nil {
		if acquired {
			c.releaseAvatar(avatar, "release avatar after failed load")
		}
		return persona.Binding{}, err
	}
	return persona.Binding{Voice: voice, Avatar: avatar}, nil
}

func (c *BindingCache) releaseAvatar(handle persona.AvatarHandle, what string) {
	releaser, ok := c.avatars.(AvatarReleaser)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := releaser.ReleaseAvatar(ctx, handle); err != nil {
		logging.Warnw(what+" failed",
			"component", "persona", "persona.id", handle.PersonaID, "avatar.token", handle.Token, "error", err)
		return
	}
	logging.Debugw(what, "component", "persona", "persona.id", handle.PersonaID, "avatar.token", handle.Token)
}
