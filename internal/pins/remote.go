package pins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Tonoyama/EkiPick/internal/models"
)

// Remote saves pins to the narrator's pin API over HTTP: POST /api/v1/pins with a
// {"name", "lat", "lon"} body. Servers using another pin schema are not supported.
type Remote struct {
	baseURL string
	token   string

	client *http.Client
}

type remotePin struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// NewRemote creates a client for the pin server at baseURL. token is sent as a bearer token when
// set.
func NewRemote(baseURL, token string, client *http.Client) Remote {
	if client == nil {
		client = &http.Client{}
	}
	return Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

// Save posts pin to the server. The server answers 400 for a pin it already has; that answer is
// treated as success, which also hides genuinely malformed requests.
func (r Remote) Save(ctx context.Context, pin models.LocationPin) error {
	body, err := json.Marshal(remotePin{Name: pin.Label, Lat: pin.Lat, Lon: pin.Lon})
	if err != nil {
		return fmt.Errorf("error marshaling pin: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/v1/pins", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pin server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// List fetches the pins the server holds.
func (r Remote) List(ctx context.Context) ([]models.LocationPin, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/v1/pins", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pin server returned %d", resp.StatusCode)
	}

	var remote []remotePin
	if err := json.NewDecoder(resp.Body).Decode(&remote); err != nil {
		return nil, fmt.Errorf("error decoding pins: %w", err)
	}
	pins := make([]models.LocationPin, len(remote))
	for i, p := range remote {
		pins[i] = models.LocationPin{Label: p.Name, Lat: p.Lat, Lon: p.Lon}
	}
	return pins, nil
}
