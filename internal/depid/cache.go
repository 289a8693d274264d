package depid

import (
	"sort"
	"strings"
	"sync"

	"k8s.io/utils/lru"

	"github.com/anvil-platform/pkggraph/internal/spec"
)

// cacheSize bounds each memo table.
const cacheSize = 8192

type memo struct {
	encode  *lru.Cache
	decode  *lru.Cache
	base    *lru.Cache
	derive  *lru.Cache
	hydrate *lru.Cache
}

var (
	caches = newMemo()

	configMu    sync.Mutex
	fingerprint string
)

func newMemo() memo {
	return memo{
		encode:  lru.New(cacheSize),
		decode:  lru.New(cacheSize),
		base:    lru.New(cacheSize),
		derive:  lru.New(cacheSize),
		hydrate: lru.New(cacheSize),
	}
}

// ResetCaches drops every memoized derivation. Call it whenever registry
// options change; they are not part of the cache keys.
func ResetCaches() {
	caches.encode.Clear()
	caches.decode.Clear()
	caches.base.Clear()
	caches.derive.Clear()
	caches.hydrate.Clear()
}

// Configure resets the caches if opts differ from the options of the
// previous call.
func Configure(opts spec.Options) {
	fp := optionsFingerprint(opts)
	configMu.Lock()
	defer configMu.Unlock()
	if fp == fingerprint {
		return
	}
	fingerprint = fp
	ResetCaches()
}

func optionsFingerprint(opts spec.Options) string {
	aliases := make([]string, 0, len(opts.Registries))
	for alias, url := range opts.Registries {
		aliases = append(aliases, alias+"="+spec.NormalizeRegistry(url))
	}
	sort.Strings(aliases)
	return opts.DefaultRegistry() + "|" + strings.Join(aliases, ",")
}
