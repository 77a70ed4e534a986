package avatar

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/MimeLyc/live-chat-relay/internal/dedup"
	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

// DefaultAvatarURL is served when resolution fails or is suppressed. It is
// never cached, so a later lookup retries the real tiers.
const DefaultAvatarURL = "//static.hdslb.com/images/member/noface.gif"

const defaultBanWindow = 1 * time.Hour

// Config tunes the avatar service.
type Config struct {
	CacheSize int
	// BanWindow suspends fetching after the endpoint bans us. Zero picks the
	// default.
	BanWindow time.Duration
}

// Service resolves author avatars through three tiers: a bounded in-memory
// cache, the sqlite store, and the platform fetcher. Lookups for the same
// uid are collapsed to one fetch. Resolution never fails; it degrades to
// DefaultAvatarURL.
type Service struct {
	resolver  *dedup.Resolver[string]
	store     *Store
	fetcher   Fetcher
	banWindow time.Duration

	banMu    sync.Mutex
	banUntil time.Time
}

// NewService wires the tiers together. store may be nil to run without the
// durable tier.
func NewService(cfg Config, store *Store, fetcher Fetcher) (*Service, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10000
	}
	if cfg.BanWindow <= 0 {
		cfg.BanWindow = defaultBanWindow
	}
	resolver, err := dedup.NewResolver[string](cfg.CacheSize, func(url string) bool {
		return url != "" && url != DefaultAvatarURL
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		resolver:  resolver,
		store:     store,
		fetcher:   fetcher,
		banWindow: cfg.BanWindow,
	}, nil
}

// AvatarURL resolves the avatar for uid. It blocks on at most one store
// lookup plus one fetch and always returns a usable URL.
func (s *Service) AvatarURL(ctx context.Context, uid int64) string {
	if uid <= 0 {
		return DefaultAvatarURL
	}
	key := strconv.FormatInt(uid, 10)
	url, err := s.resolver.Resolve(ctx, key, func(ctx context.Context) (string, error) {
		return s.lookup(ctx, uid), nil
	})
	if err != nil || url == "" {
		return DefaultAvatarURL
	}
	return url
}

func (s *Service) lookup(ctx context.Context, uid int64) string {
	if s.store != nil {
		if url, ok, err := s.store.Get(ctx, uid); err != nil {
			log.Warn("avatar: store lookup for uid %d failed: %v", uid, err)
		} else if ok {
			return url
		}
	}

	if s.banned() {
		return DefaultAvatarURL
	}

	url, err := s.fetcher.FetchAvatarURL(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrBanned) {
			s.enterBan()
			log.Warn("avatar: endpoint banned us, suspending fetches for %s", s.banWindow)
		} else {
			log.Warn("avatar: fetch for uid %d failed: %v", uid, err)
		}
		return DefaultAvatarURL
	}

	if s.store != nil {
		if err := s.store.Put(ctx, uid, url); err != nil {
			log.Warn("avatar: failed to persist avatar for uid %d: %v", uid, err)
		}
	}
	return url
}

func (s *Service) banned() bool {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	return time.Now().Before(s.banUntil)
}

func (s *Service) enterBan() {
	s.banMu.Lock()
	defer s.banMu.Unlock()
	s.banUntil = time.Now().Add(s.banWindow)
}

// Close releases the in-memory tier. The store is closed by its owner.
func (s *Service) Close() {
	s.resolver.Close()
}
