package pvs

import (
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/solaranalyzer/solaranalyzer/pkg/config"
)

// Configured registers the gateway flags and returns a client that is usable
// once lflag.Configure has run. An empty host leaves the client unconfigured.
func Configured(sources *config.Sources) *Client {
	host := lflag.String("pvs-host", "", "Hostname or IP of the PVS gateway")
	port := lflag.Int("pvs-port", 80, "HTTP port of the PVS gateway")
	timeout := lflag.Duration("pvs-timeout", 15*time.Second, "Timeout for gateway requests")
	pingCheck := lflag.Bool("pvs-ping-check", false, "Require an ICMP echo from the gateway before fetching")

	c := &Client{pinger: ping}

	lflag.Do(func() {
		h, p := *host, *port
		if h == "" && sources != nil {
			h = sources.PVS.Host
			if sources.PVS.Port != 0 {
				p = sources.PVS.Port
			}
		}
		*c = *NewClient(h, p, *timeout)
		c.pingCheck = *pingCheck
	})

	return c
}
