package pvs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/solaranalyzer/solaranalyzer/pkg/common"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
)

const deviceListPath = "cgi-bin/dl_cgi"

// Client talks to a PVS5/PVS6 gateway over its local HTTP interface.
type Client struct {
	client    *http.Client
	baseURL   string
	host      string
	pingCheck bool
	pinger    func(host string) error
}

// NewClient returns a client for the gateway at host:port.
func NewClient(host string, port int, timeout time.Duration) *Client {
	return &Client{
		client:  common.HTTPClient(timeout),
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		host:    host,
		pinger:  ping,
	}
}

// Configured reports whether a gateway host was provided.
func (c *Client) Configured() bool {
	return c.host != ""
}

func (c *Client) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

// GetDeviceList fetches the raw device list. Entries are decoded separately
// with DeviceList.Decode so one bad entry cannot fail the request.
func (c *Client) GetDeviceList(ctx context.Context) (DeviceList, error) {
	if !c.Configured() {
		return DeviceList{}, errors.New("pvs host not configured")
	}
	req, err := c.newGetRequest(ctx, deviceListPath, url.Values{"Command": {"DeviceList"}})
	if err != nil {
		return DeviceList{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return DeviceList{}, fmt.Errorf("failed to request device list: %w", err)
	}
	defer resp.Body.Close()

	if err := common.CheckResponse(resp); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "pvs device list request failed", slog.Any("error", err))
		return DeviceList{}, err
	}

	var list DeviceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode pvs device list", slog.Any("error", err))
		return DeviceList{}, fmt.Errorf("failed to decode device list: %w", err)
	}
	return list, nil
}

// TestConnection succeeds when the device list can be fetched. With the ping
// check enabled the host must also answer an ICMP echo first.
func (c *Client) TestConnection(ctx context.Context) error {
	if c.pingCheck {
		if err := c.pinger(c.host); err != nil {
			return fmt.Errorf("ping %s: %w", c.host, err)
		}
	}
	_, err := c.GetDeviceList(ctx)
	return err
}

func ping(host string) error {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return err
	}

	pinger.Count = 1
	pinger.Timeout = 2 * time.Second
	pinger.SetPrivileged(false) // UDP-based, no root needed

	if err := pinger.Run(); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return errors.New("no response")
	}
	return nil
}
