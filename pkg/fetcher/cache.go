package fetcher

import (
	"time"
)

type cacheEntry struct {
	data    []byte
	expires time.Time // zero keeps the entry until the cache is cleared
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

func (m *ManagerCtx) getFromCache(key string) ([]byte, bool) {
	m.cacheMu.RLock()
	entry, ok := m.cache[key]
	m.cacheMu.RUnlock()

	// on cache miss
	if !ok {
		m.logger.Trace().Str("key", key).Msg("cache miss")
		return nil, false
	}

	// if cache has expired
	if entry.expired(time.Now()) {
		return nil, false
	}

	// cache hit
	m.logger.Trace().Str("key", key).Msg("cache hit")
	return entry.data, true
}

func (m *ManagerCtx) saveToCache(key string, data []byte) {
	entry := &cacheEntry{data: data}
	if m.config.CacheExpiration > 0 {
		entry.expires = time.Now().Add(m.config.CacheExpiration)
	}

	m.cacheMu.Lock()
	m.cache[key] = entry
	m.cacheMu.Unlock()

	// start periodic cleanup if not running
	if m.config.CacheExpiration > 0 {
		m.cleanupStart()
	}
}

func (m *ManagerCtx) cacheSize() int {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	return len(m.cache)
}

func (m *ManagerCtx) ClearCache() {
	m.cacheMu.Lock()
	m.cache = map[string]*cacheEntry{}
	m.cacheMu.Unlock()

	m.cleanupStop()
	m.logger.Debug().Msg("cache cleared")
}

func (m *ManagerCtx) removeExpired() {
	cacheSize := 0

	now := time.Now()

	m.cacheMu.Lock()
	for key, entry := range m.cache {
		// remove expired entries
		if entry.expired(now) {
			delete(m.cache, key)
			m.logger.Debug().Str("key", key).Msg("cache cleanup remove expired")
		} else {
			cacheSize++
		}
	}
	m.cacheMu.Unlock()

	if cacheSize == 0 {
		m.cleanupStop()
	}
}

func (m *ManagerCtx) cleanupStart() {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	// if already running
	if m.cleanup {
		return
	}

	m.shutdown = make(chan struct{})
	m.cleanup = true

	go func(shutdown chan struct{}) {
		m.logger.Debug().Msg("cleanup started")

		ticker := time.NewTicker(m.config.CacheCleanupPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-shutdown:
				return
			case <-ticker.C:
				m.logger.Debug().Msg("performing cleanup")
				m.removeExpired()
			}
		}
	}(m.shutdown)
}

func (m *ManagerCtx) cleanupStop() {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()

	// if not running
	if !m.cleanup {
		return
	}

	m.cleanup = false
	close(m.shutdown)

	m.logger.Debug().Msg("cleanup stopped")
}
