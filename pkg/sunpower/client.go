package sunpower

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/common"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
)

const DefaultURL = "https://monitor.mysunpower.com/CustomerPortal/graphql"

// Client queries the MySunPower GraphQL API for a single site.
type Client struct {
	client      *http.Client
	url         string
	accessToken string
	siteKey     string
}

// NewClient returns a client that authenticates with accessToken and queries
// the site identified by siteKey.
func NewClient(url, accessToken, siteKey string, timeout time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		client:      common.HTTPClient(timeout),
		url:         url,
		accessToken: accessToken,
		siteKey:     siteKey,
	}
}

// Configured reports whether credentials were provided.
func (c *Client) Configured() bool {
	return c.accessToken != "" && c.siteKey != ""
}

const currentPowerQuery = `query CurrentPower($siteKey: String!) {
  site(siteKey: $siteKey) {
    currentPower {
      production
      consumption
      grid
      battery
      batterySOC
      timestamp
    }
  }
}`

const energyDataQuery = `query EnergyData($siteKey: String!, $startDate: String!, $endDate: String!, $interval: String!) {
  site(siteKey: $siteKey) {
    energyData(startDate: $startDate, endDate: $endDate, interval: $interval) {
      timestamp
      production
      consumption
      grid
      battery
    }
  }
}`

const panelDataQuery = `query PanelData($siteKey: String!) {
  site(siteKey: $siteKey) {
    panels {
      id
      serialNumber
      currentPower
      todayEnergy
      totalEnergy
      status
      lastUpdate
    }
  }
}`

const systemInfoQuery = `query SystemInfo($siteKey: String!) {
  site(siteKey: $siteKey) {
    info {
      name
      address
      systemSize
      panelCount
      inverterCount
      hasBattery
      batteryCapacity
      installDate
    }
  }
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors"`
}

func (c *Client) newPostJSONRequest(ctx context.Context, data interface{}) (*http.Request, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	return req, nil
}

// query runs a GraphQL query and decodes the data member into dest.
func (c *Client) query(ctx context.Context, query string, vars map[string]any, dest interface{}) error {
	if !c.Configured() {
		return errors.New("sunpower credentials not configured")
	}
	if vars == nil {
		vars = map[string]any{}
	}
	vars["siteKey"] = c.siteKey

	req, err := c.newPostJSONRequest(ctx, graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sunpower request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := common.CheckResponse(resp); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "sunpower api returned error status", slog.Any("error", err))
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var gr graphqlResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode sunpower response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode sunpower response: %w", err)
	}
	if len(gr.Errors) > 0 {
		msgs := make([]string, len(gr.Errors))
		for i, e := range gr.Errors {
			msgs[i] = e.Message
		}
		log.Ctx(ctx).ErrorContext(ctx, "sunpower graphql error", slog.Any("messages", msgs))
		return fmt.Errorf("sunpower graphql error: %s", strings.Join(msgs, "; "))
	}
	if dest == nil {
		return nil
	}
	if len(gr.Data) == 0 || string(gr.Data) == "null" {
		return errors.New("sunpower response has no data")
	}
	if err := json.Unmarshal(gr.Data, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode sunpower data", slog.Any("error", err))
		return fmt.Errorf("failed to decode sunpower data: %w", err)
	}
	return nil
}

// GetCurrentPower returns the live power snapshot. A nil result means the
// site reported no current power.
func (c *Client) GetCurrentPower(ctx context.Context) (*CurrentPower, error) {
	var data struct {
		Site struct {
			CurrentPower *CurrentPower `json:"currentPower"`
		} `json:"site"`
	}
	if err := c.query(ctx, currentPowerQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Site.CurrentPower, nil
}

// GetEnergyData returns the raw energy series between start and end at the
// given interval (hour, day, ...). Items are left undecoded so that one bad
// item can be skipped by the caller without losing the rest.
func (c *Client) GetEnergyData(ctx context.Context, start, end time.Time, interval string) ([]json.RawMessage, error) {
	if interval == "" {
		interval = "hour"
	}
	var data struct {
		Site struct {
			EnergyData []json.RawMessage `json:"energyData"`
		} `json:"site"`
	}
	vars := map[string]any{
		"startDate": start.Format(time.RFC3339),
		"endDate":   end.Format(time.RFC3339),
		"interval":  interval,
	}
	if err := c.query(ctx, energyDataQuery, vars, &data); err != nil {
		return nil, err
	}
	return data.Site.EnergyData, nil
}

// GetPanels returns the per-panel view of the site.
func (c *Client) GetPanels(ctx context.Context) ([]Panel, error) {
	var data struct {
		Site struct {
			Panels []Panel `json:"panels"`
		} `json:"site"`
	}
	if err := c.query(ctx, panelDataQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Site.Panels, nil
}

// GetSystemInfo returns the site description.
func (c *Client) GetSystemInfo(ctx context.Context) (SystemInfo, error) {
	var data struct {
		Site struct {
			Info SystemInfo `json:"info"`
		} `json:"site"`
	}
	if err := c.query(ctx, systemInfoQuery, nil, &data); err != nil {
		return SystemInfo{}, err
	}
	return data.Site.Info, nil
}

// TestConnection succeeds when the system info query succeeds.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.GetSystemInfo(ctx)
	return err
}

// Panel is one panel as reported by the cloud API.
type Panel struct {
	ID           string   `json:"id"`
	SerialNumber string   `json:"serialNumber"`
	CurrentPower *float64 `json:"currentPower"`
	TodayEnergy  *float64 `json:"todayEnergy"`
	TotalEnergy  *float64 `json:"totalEnergy"`
	Status       string   `json:"status"`
	LastUpdate   string   `json:"lastUpdate"`
}

// SystemInfo describes the installation.
type SystemInfo struct {
	Name            string   `json:"name"`
	Address         string   `json:"address"`
	SystemSize      *float64 `json:"systemSize"`
	PanelCount      int      `json:"panelCount"`
	InverterCount   int      `json:"inverterCount"`
	HasBattery      bool     `json:"hasBattery"`
	BatteryCapacity *float64 `json:"batteryCapacity"`
	InstallDate     string   `json:"installDate"`
}
