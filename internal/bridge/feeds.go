package bridge

import (
	"log/slog"

	"golang.org/x/text/language"

	"github.com/roach88/listbridge/internal/loop"
	"github.com/roach88/listbridge/internal/toc"
)

// FeedConfig configures RegisterFeeds.
type FeedConfig struct {
	// Locale orders folder names. Defaults to language.Und.
	Locale language.Tag
	// Raw lists extra namespaces served through viewRawList.
	Raw []string
	// Refresh, when set, backs List.Refresh for every list.
	Refresh func(namespace, name, why string) *loop.Future
	// LoadInline is passed through to every provider.
	LoadInline bool
	Logger     *slog.Logger
}

// RegisterFeeds registers a toc.FeedProvider over feed for each standard
// namespace and each raw namespace. The caller closes the returned
// providers when the session ends.
//
// Orderings: accounts and events by key, folders by collated key,
// conversations newest first.
func RegisterFeeds(reg *toc.Registry, l *loop.Loop, feed toc.Feed, cfg FeedConfig) []*toc.FeedProvider {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	compare := map[string]toc.Comparator{
		NamespaceAccounts:      toc.ByKey,
		NamespaceFolders:       toc.Collated(cfg.Locale),
		NamespaceConversations: toc.Descending(toc.ByKey),
		NamespaceEvents:        toc.ByKey,
	}
	namespaces := []string{NamespaceAccounts, NamespaceFolders, NamespaceConversations, NamespaceEvents}
	for _, ns := range cfg.Raw {
		if _, ok := compare[ns]; ok {
			continue
		}
		compare[ns] = toc.ByKey
		namespaces = append(namespaces, ns)
	}

	providers := make([]*toc.FeedProvider, 0, len(namespaces))
	for _, ns := range namespaces {
		opts := toc.FeedOptions{
			ListOptions: toc.ListOptions{Compare: compare[ns], Logger: cfg.Logger},
			Namespace:   ns,
			LoadInline:  cfg.LoadInline,
		}
		if cfg.Refresh != nil {
			ns, refresh := ns, cfg.Refresh
			opts.RefreshName = func(name, why string) *loop.Future {
				return refresh(ns, name, why)
			}
		}
		p := toc.NewFeedProvider(l, feed, opts)
		reg.Register(ns, p)
		providers = append(providers, p)
	}
	return providers
}
