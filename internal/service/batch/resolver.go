package batch

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/Notifuse/dispatch/internal/domain"
	"github.com/Notifuse/dispatch/pkg/cache"
	"github.com/Notifuse/dispatch/pkg/logger"
)

// MXLookupFunc returns the MX records of a domain
type MXLookupFunc func(ctx context.Context, name string) ([]*net.MX, error)

// HostResolver derives the host a message is handed to, which in turn selects
// the provider policy and limiter of the message.
type HostResolver struct {
	lookupMX MXLookupFunc
	mxLookup bool
	ttl      time.Duration
	cache    *cache.InMemoryCache[string]
	logger   logger.Logger
}

// NewHostResolver creates a resolver. A nil lookup uses the system resolver.
func NewHostResolver(cfg *Config, lookup MXLookupFunc, log logger.Logger) *HostResolver {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if lookup == nil {
		lookup = net.DefaultResolver.LookupMX
	}
	return &HostResolver{
		lookupMX: lookup,
		mxLookup: cfg.MXLookup,
		ttl:      cfg.MXCacheTTL,
		cache:    cache.NewInMemoryCache[string](cfg.MXCacheTTL),
		logger:   log,
	}
}

// DestinationHost returns the relay host when one is configured, otherwise the
// preferred MX host of the recipient domain, otherwise the domain itself
func (r *HostResolver) DestinationHost(ctx context.Context, email string, providerCfg domain.ProviderConfig) string {
	if providerCfg.Host != "" {
		return strings.ToLower(providerCfg.Host)
	}

	domainName := emailDomain(email)
	if domainName == "" || !r.mxLookup {
		return domainName
	}

	host, err := r.cache.GetOrSet(domainName, r.ttl, func() (string, error) {
		return r.preferredMX(ctx, domainName)
	})
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"domain": domainName,
			"error":  err.Error(),
		}).Debug("MX lookup failed, using the recipient domain")
		return domainName
	}
	return host
}

// Stop releases the lookup cache
func (r *HostResolver) Stop() {
	r.cache.Stop()
}

func (r *HostResolver) preferredMX(ctx context.Context, domainName string) (string, error) {
	records, err := r.lookupMX(ctx, domainName)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return domainName, nil
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})
	host := strings.TrimSuffix(strings.ToLower(records[0].Host), ".")
	if host == "" {
		return domainName, nil
	}
	return host, nil
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}
