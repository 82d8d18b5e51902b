package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDirectory looks up user profiles from an Okta style users API:
// GET {baseURL}/api/v1/users/{id} authenticated with an SSWS API token.
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *http.Client
}

type directoryUser struct {
	ID      string `json:"id"`
	Profile struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"profile"`
}

// NewHTTPDirectory creates a directory client. A nil client gets a default
// one with a 5 second timeout.
func NewHTTPDirectory(baseURL, token string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  client,
	}
}

// Profile fetches the profile of subjectID.
func (d *HTTPDirectory) Profile(ctx context.Context, subjectID string) (Profile, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Profile{}, errors.New("subject id is required")
	}

	endpoint := d.baseURL + "/api/v1/users/" + url.PathEscape(subjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return Profile{}, fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "SSWS "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("call directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("directory status %d", resp.StatusCode)
	}

	var user directoryUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return Profile{}, fmt.Errorf("decode directory response: %w", err)
	}
	if strings.TrimSpace(user.ID) == "" {
		return Profile{}, errors.New("directory returned empty user id")
	}
	return Profile{
		ID:        user.ID,
		FirstName: user.Profile.FirstName,
		LastName:  user.Profile.LastName,
	}, nil
}

// SubjectDirectory is used when no directory is configured: the profile is
// the verified subject with no names attached.
type SubjectDirectory struct{}

// Profile returns a profile whose id is subjectID.
func (SubjectDirectory) Profile(_ context.Context, subjectID string) (Profile, error) {
	if strings.TrimSpace(subjectID) == "" {
		return Profile{}, errors.New("subject id is required")
	}
	return Profile{ID: subjectID}, nil
}
