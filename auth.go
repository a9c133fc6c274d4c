package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/remote"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Fetch and cache an access token for the remote",
		Long: `Run the OAuth2 client-credentials exchange configured under [remote] and cache
the token at remote.token_cache, discarding any previously cached token.

When remote.health_path is set the new token is checked against it.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
}

type loginOutput struct {
	CachePath string    `json:"cachePath"`
	Expiry    time.Time `json:"expiry,omitzero"`
	Verified  bool      `json:"verified"`
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	rcfg := &cc.Cfg.Remote

	if rcfg.Token != "" {
		cc.Statusf("A static token is configured, nothing to log in to\n")
		return nil
	}

	if rcfg.ClientID == "" {
		return fmt.Errorf("login: %w (set remote.client_id and remote.token_url)", remote.ErrNoCredentials)
	}

	if rcfg.TokenCache == "" {
		return errors.New("login: remote.token_cache is empty, the token would not be kept")
	}

	if err := remote.DeleteToken(rcfg.TokenCache); err != nil {
		return err
	}

	tokens, err := remote.NewTokenSource(ctx, rcfg.Credentials(), cc.Logger)
	if err != nil {
		return err
	}

	if _, err := tokens.Token(); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	out := loginOutput{CachePath: rcfg.TokenCache}

	tok, _, err := remote.LoadToken(rcfg.TokenCache)
	if err != nil {
		return err
	}

	if tok != nil {
		out.Expiry = tok.Expiry
	}

	if rcfg.HealthPath != "" && rcfg.BaseURL != "" {
		client := remote.NewClient(rcfg.BaseURL, &http.Client{Timeout: rcfg.TimeoutDuration()}, tokens, cc.Logger)
		if err := client.Ping(ctx, rcfg.HealthPath); err != nil {
			return fmt.Errorf("login: token issued but %s rejected it: %w", rcfg.HealthPath, err)
		}

		out.Verified = true
	}

	if cc.Flags.JSON {
		return printJSON(os.Stdout, out)
	}

	cc.Statusf("Token cached at %s", out.CachePath)

	if !out.Expiry.IsZero() {
		cc.Statusf(" (expires %s)", formatTime(out.Expiry))
	}

	cc.Statusf("\n")

	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			path := cc.Cfg.Remote.TokenCache

			if path == "" {
				cc.Statusf("No token cache configured\n")
				return nil
			}

			if err := remote.DeleteToken(path); err != nil {
				return err
			}

			cc.Statusf("Removed %s\n", path)

			return nil
		},
	}
}
