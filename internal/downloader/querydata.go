package downloader

import "net/url"

// Identity carries the client identification reported to the list servers
// with every download request.
type Identity struct {
	AddonName          string
	AddonVersion       string
	Application        string
	ApplicationVersion string
	Platform           string
	PlatformVersion    string
}

// QueryValues builds the tracking query parameters for a download request.
func (id Identity) QueryValues(lastVersion, downloadCount string) url.Values {
	return url.Values{
		"addonName":          {id.AddonName},
		"addonVersion":       {id.AddonVersion},
		"application":        {id.Application},
		"applicationVersion": {id.ApplicationVersion},
		"platform":           {id.Platform},
		"platformVersion":    {id.PlatformVersion},
		"lastVersion":        {lastVersion},
		"downloadCount":      {downloadCount},
	}
}
