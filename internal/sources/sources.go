package sources

import (
	"github.com/vpetreski/zapply/internal/scraper"
)

// sourceDef describes one compiled-in source: its registry metadata
// plus the feed defaults the generic fetcher starts from.
type sourceDef struct {
	meta             scraper.Metadata
	defaultFeedURL   string
	resolveRedirects bool
}

var defs = []sourceDef{
	{
		meta: scraper.Metadata{
			Name:                 "working_nomads",
			Label:                "Working Nomads",
			Description:          "Remote job board for digital nomads with development and tech positions",
			RequiresCredentials:  true,
			CredentialKeys:       []string{"token"},
			CredentialsEnvPrefix: "WORKING_NOMADS",
		},
		defaultFeedURL: "https://www.workingnomads.com/api/exposed_jobs/",
		// Listing links go through /job/go/ redirects; the destination
		// is the cross-source identity.
		resolveRedirects: true,
	},
	{
		meta: scraper.Metadata{
			Name:        "weworkremotely",
			Label:       "We Work Remotely",
			Description: "Large remote work community with programming and devops categories",
		},
		defaultFeedURL: "https://weworkremotely.com/categories/remote-programming-jobs.json",
		// Destination pages sit behind Cloudflare; no resolved URLs,
		// so this source forgoes cross-source dedup.
		resolveRedirects: false,
	},
	{
		meta: scraper.Metadata{
			Name:        "remotive",
			Label:       "Remotive",
			Description: "Curated remote jobs in software development",
		},
		defaultFeedURL:   "https://remotive.com/api/remote-jobs",
		resolveRedirects: true,
	},
	{
		meta: scraper.Metadata{
			Name:        "himalayas",
			Label:       "Himalayas",
			Description: "Remote job aggregator with a public API",
		},
		defaultFeedURL:   "https://himalayas.app/jobs/api",
		resolveRedirects: true,
	},
	{
		meta: scraper.Metadata{
			Name:                 "dailyremote",
			Label:                "DailyRemote",
			Description:          "Remote job board across engineering and design",
			RequiresCredentials:  true,
			CredentialKeys:       []string{"token"},
			CredentialsEnvPrefix: "DAILYREMOTE",
		},
		defaultFeedURL:   "https://dailyremote.com/api/jobs",
		resolveRedirects: false,
	},
}

// RegisterAll registers every compiled-in source with the registry.
// A duplicate name is a fatal configuration error surfaced to the caller.
func RegisterAll(registry *scraper.Registry) error {
	for _, def := range defs {
		def := def
		factory := func(credentials map[string]string, settings map[string]any) (scraper.Fetcher, error) {
			return NewFeedFetcher(def.meta.Name, def.defaultFeedURL, def.resolveRedirects, credentials, settings)
		}
		if err := registry.Register(def.meta, factory); err != nil {
			return err
		}
	}
	return nil
}
