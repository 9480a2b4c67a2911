package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/primehq/prime/internal/config"
)

// credentials is the token pair cached after a device login.
type credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func credentialsPath() string {
	return filepath.Join(dataDir(), "credentials.json")
}

func loadCredentials() (*credentials, error) {
	data, err := os.ReadFile(credentialsPath())
	if err != nil {
		return nil, err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("credential file has no access token")
	}
	return &creds, nil
}

func saveCredentials(creds *credentials) error {
	if err := os.MkdirAll(dataDir(), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(credentialsPath(), data, 0o600)
}

func buildAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in to the gateway and inspect credentials",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "login",
			Short: "Authorize this machine via the device flow",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runLogin(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Report whether credentials are saved and usable",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := loadCredentials(); err != nil {
					fmt.Println("not logged in")
					return nil
				}
				session, err := openSession(cmd.Context())
				if err != nil {
					fmt.Printf("credentials saved but not accepted: %v\n", err)
					return nil
				}
				session.Close()
				fmt.Println("logged in")
				return nil
			},
		},
		&cobra.Command{
			Use:   "whoami",
			Short: "Show the authenticated identity",
			RunE: func(cmd *cobra.Command, args []string) error {
				session, err := openSession(cmd.Context())
				if err != nil {
					return err
				}
				defer session.Close()
				user := session.connected.User
				fmt.Printf("user: %s\norg: %s\nrole: %s\nscopes: %v\n",
					user.ID, user.OrgID, user.Role, user.Scopes)
				return nil
			},
		},
	)
	return cmd
}

func runLogin(ctx context.Context) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	client := newGatewayClient(cfg)

	var grant struct {
		DeviceCode      string    `json:"device_code"`
		UserCode        string    `json:"user_code"`
		IntervalSeconds int       `json:"interval"`
		ExpiresAt       time.Time `json:"expires_at"`
	}
	if err := client.postJSON(ctx, "/auth/device/start", map[string]any{}, &grant); err != nil {
		return fmt.Errorf("start device flow: %w", err)
	}

	fmt.Printf("Your code is %s\n", grant.UserCode)
	fmt.Println("Ask an administrator to approve it, then keep this window open.")

	interval := time.Duration(grant.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(grant.ExpiresAt) {
				return fmt.Errorf("device code expired before approval")
			}
			var pair credentials
			err := client.postJSON(ctx, "/auth/device/token", map[string]string{
				"device_code": grant.DeviceCode,
			}, &pair)
			if err != nil {
				var apiErr *apiError
				if errors.As(err, &apiErr) && apiErr.Code == "authorization_pending" {
					continue
				}
				return fmt.Errorf("device token: %w", err)
			}
			if err := saveCredentials(&pair); err != nil {
				return err
			}
			fmt.Println("logged in")
			return nil
		}
	}
}

// apiError is the gateway's JSON error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// postJSON posts a body and decodes the response, converting non-2xx
// replies into apiError values.
func (c *gatewayClient) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error apiError `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return &envelope.Error
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
