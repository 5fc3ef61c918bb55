package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const googleTokenInfoURL = "https://www.googleapis.com/oauth2/v3/tokeninfo"

// GoogleTokenInfo is the subset of the tokeninfo response we care about
type GoogleTokenInfo struct {
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
}

// GoogleService verifies Google OAuth access tokens
type GoogleService struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewGoogleService() *GoogleService {
	return &GoogleService{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.With("service", "GoogleService"),
	}
}

// VerifyToken validates an access token against Google's tokeninfo endpoint
func (g *GoogleService) VerifyToken(ctx context.Context, accessToken string) (*GoogleTokenInfo, error) {
	reqURL := fmt.Sprintf("%s?access_token=%s", googleTokenInfoURL, url.QueryEscape(accessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tokeninfo request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invalid google token (status %d)", resp.StatusCode)
	}

	var info GoogleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode tokeninfo response: %w", err)
	}

	return &info, nil
}
