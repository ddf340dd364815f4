package sunpower

import (
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/solaranalyzer/solaranalyzer/pkg/config"
)

// Configured registers the cloud API flags. Values missing from the flags are
// taken from the sources file when one is loaded.
func Configured(sources *config.Sources) *Client {
	url := lflag.String("sunpower-url", "", "MySunPower GraphQL endpoint (default "+DefaultURL+")")
	accessToken := lflag.String("sunpower-access-token", "", "Bearer token for the MySunPower API")
	siteKey := lflag.String("sunpower-site-key", "", "MySunPower site key")
	timeout := lflag.Duration("sunpower-timeout", 30*time.Second, "Timeout for MySunPower requests")

	c := &Client{}

	lflag.Do(func() {
		u, token, key := *url, *accessToken, *siteKey
		if sources != nil {
			if u == "" {
				u = sources.SunPower.URL
			}
			if token == "" {
				token = sources.SunPower.AccessToken
			}
			if key == "" {
				key = sources.SunPower.SiteKey
			}
		}
		*c = *NewClient(u, token, key, *timeout)
	})

	return c
}
