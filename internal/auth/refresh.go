package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// RestRefresh returns a RefreshFunc that exchanges the refresh token at
// POST {baseURL}/api/auth/refresh. A nil client falls back to
// http.DefaultClient.
func RestRefresh(baseURL string, client *http.Client) RefreshFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, refreshToken string) (TokenPair, error) {
		body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
		if err != nil {
			return TokenPair{}, fmt.Errorf("marshal refresh request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/auth/refresh", bytes.NewReader(body))
		if err != nil {
			return TokenPair{}, fmt.Errorf("build refresh request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return TokenPair{}, fmt.Errorf("refresh request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return TokenPair{}, fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
		}

		var envelope struct {
			Data TokenPair `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return TokenPair{}, fmt.Errorf("decode refresh response: %w", err)
		}
		if envelope.Data.AccessToken == "" {
			return TokenPair{}, fmt.Errorf("refresh response missing access token")
		}
		return envelope.Data, nil
	}
}
