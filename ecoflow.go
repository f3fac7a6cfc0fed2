package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	defaultLoginURL  = "https://api.ecoflow.com/auth/login"
	defaultDeviceURL = "https://api-e.ecoflow.com/provider-service/user/device/detail"
)

// DeviceInfo describes the installation for Home Assistant device
// registration.
type DeviceInfo struct {
	Product string
	Vendor  string
	Serial  string
	Name    string
}

// EcoflowClient talks to the EcoFlow cloud API for one PowerOcean
// installation. The base URLs are fields so tests can point the client at a
// local server.
type EcoflowClient struct {
	Serial    string
	LoginURL  string
	DeviceURL string

	email    string
	password string
	token    string
	userID   string
	http     *http.Client
}

// NewEcoflowClient creates a client for the given installation. No network
// traffic happens until Authorize or FetchRawDocument is called.
func NewEcoflowClient(serial, email, password string) *EcoflowClient {
	return &EcoflowClient{
		Serial:    serial,
		LoginURL:  defaultLoginURL,
		DeviceURL: defaultDeviceURL,
		email:     email,
		password:  password,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// DeviceInfo returns the static descriptor of the installation.
func (c *EcoflowClient) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Product: "PowerOcean",
		Vendor:  "EcoFlow",
		Serial:  c.Serial,
		Name:    "PowerOcean",
	}
}

// Authorize logs in to the EcoFlow API and stores the bearer token for
// subsequent fetches. The API expects the password base64-encoded in a JSON
// body, not HTTP basic auth.
func (c *EcoflowClient) Authorize() error {
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": base64.StdEncoding.EncodeToString([]byte(c.password)),
		"scene":    "IOT_APP",
		"userType": "ECOFLOW",
	})
	if err != nil {
		return fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequest("POST", c.LoginURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("lang", "en_US")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.LoginURL, err)
	}
	response, err := decodeEnvelope(resp)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	data := asObject(response["data"])
	token, ok := data["token"].(string)
	if !ok || token == "" {
		return fmt.Errorf("login response carries no token")
	}
	c.token = token
	c.userID, _ = asObject(data["user"])["userId"].(string)

	log.Printf("Logged in to EcoFlow API as %s\n", c.email)
	return nil
}

// FetchRawDocument retrieves the full device-detail document for the
// configured serial. On a failed fetch with an existing token it re-authorizes
// once, since bearer tokens expire server-side without notice.
func (c *EcoflowClient) FetchRawDocument() (map[string]any, error) {
	if c.token == "" {
		if err := c.Authorize(); err != nil {
			return nil, err
		}
	}

	doc, err := c.fetchOnce()
	if err != nil {
		log.Printf("Fetch failed (%v), re-authorizing\n", err)
		if authErr := c.Authorize(); authErr != nil {
			return nil, authErr
		}
		doc, err = c.fetchOnce()
	}
	return doc, err
}

func (c *EcoflowClient) fetchOnce() (map[string]any, error) {
	url := fmt.Sprintf("%s?sn=%s", c.DeviceURL, c.Serial)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	return decodeEnvelope(resp)
}

// decodeEnvelope checks the HTTP status and the EcoFlow response envelope,
// whose message field must read "success" even on HTTP 200.
func decodeEnvelope(resp *http.Response) (map[string]any, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var response map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode JSON response: %w", err)
	}

	message, ok := response["message"].(string)
	if !ok {
		return nil, fmt.Errorf("response carries no message field")
	}
	if !strings.EqualFold(message, "success") {
		return nil, fmt.Errorf("API reported failure: %s", message)
	}

	return response, nil
}
