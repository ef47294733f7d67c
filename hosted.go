package userpool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// HostedSignInURL builds the provider's hosted login page URL. Pure function
// of configuration; navigating to it is a full page redirect, so the flow
// resumes on the callback route of a fresh page load.
func (g *CognitoGateway) HostedSignInURL() string {
	if g.cfg.HostedDomain == "" {
		return ""
	}
	return fmt.Sprintf(
		"https://%s/login?client_id=%s&response_type=code&scope=%s&redirect_uri=%s",
		g.cfg.HostedDomain,
		g.cfg.ClientID,
		strings.Join(g.cfg.scopes(), "+"),
		url.QueryEscape(g.cfg.RedirectSignIn),
	)
}

// HostedSignOutURL builds the provider's hosted logout URL, which invalidates
// the hosted UI session and returns the browser to the sign-out landing page.
func (g *CognitoGateway) HostedSignOutURL() string {
	if g.cfg.HostedDomain == "" {
		return ""
	}
	return fmt.Sprintf(
		"https://%s/logout?client_id=%s&logout_uri=%s",
		g.cfg.HostedDomain,
		g.cfg.ClientID,
		url.QueryEscape(g.cfg.RedirectSignOut),
	)
}

// ExchangeAuthorizationCode trades the callback code for a token set at the
// hosted token endpoint. On success the full set is stored and the decoded
// profile returned; on any failure nothing is written. An empty code fails
// immediately without a network call.
func (g *CognitoGateway) ExchangeAuthorizationCode(ctx context.Context, store TokenStore, code string) (*UserProfile, error) {
	if code == "" {
		return nil, ErrMissingAuthorizationCode
	}

	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {g.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {g.cfg.RedirectSignIn},
	}
	if g.cfg.ClientSecret != "" {
		data.Set("client_secret", g.cfg.ClientSecret)
	}

	tokenResp, err := g.postTokenEndpoint(ctx, "exchange", data)
	if err != nil {
		return nil, err
	}

	tokens := TokenSet{
		IdentityToken: tokenResp.IDToken,
		AccessToken:   tokenResp.AccessToken,
		RefreshToken:  tokenResp.RefreshToken,
	}

	return storeAndDecode(store, tokens)
}

// Refresh exchanges a refresh token for fresh identity and access tokens. The
// provider does not rotate the refresh token on this grant, so the input
// token is carried over into the returned set.
func (g *CognitoGateway) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {g.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	if g.cfg.ClientSecret != "" {
		data.Set("client_secret", g.cfg.ClientSecret)
	}

	tokenResp, err := g.postTokenEndpoint(ctx, "refresh", data)
	if err != nil {
		return nil, err
	}

	return &TokenSet{
		IdentityToken: tokenResp.IDToken,
		AccessToken:   tokenResp.AccessToken,
		RefreshToken:  refreshToken,
	}, nil
}

func (g *CognitoGateway) tokenEndpoint() string {
	if g.cfg.TokenEndpoint != "" {
		return g.cfg.TokenEndpoint
	}
	return fmt.Sprintf("https://%s/oauth2/token", g.cfg.HostedDomain)
}

type hostedTokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

func (g *CognitoGateway) postTokenEndpoint(ctx context.Context, operation string, data url.Values) (*hostedTokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to build token request").
			WithTextCode(TextCodeTransportFailure).
			WithCode(goerrors.CodeInternal)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "token endpoint request failed").
			WithTextCode(TextCodeTransportFailure).
			WithCode(goerrors.CodeInternal).
			WithMetadata(map[string]any{"operation": operation})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read token response").
			WithTextCode(TextCodeTransportFailure).
			WithCode(goerrors.CodeInternal)
	}

	var tokenResp hostedTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, g.tokenEndpointError(operation, resp.StatusCode, "failed to decode token response")
	}

	if resp.StatusCode != http.StatusOK || tokenResp.Error != "" {
		message := tokenResp.ErrorDesc
		if message == "" {
			message = tokenResp.Error
		}
		if message == "" {
			message = "token request failed"
		}
		g.logger.Info("token endpoint rejected request",
			"operation", operation, "status", resp.StatusCode, "error", tokenResp.Error)
		return nil, g.tokenEndpointError(operation, resp.StatusCode, message)
	}

	return &tokenResp, nil
}

func (g *CognitoGateway) tokenEndpointError(operation string, status int, message string) error {
	base := ErrTokenExchangeFailed
	if operation == "refresh" {
		base = ErrRefreshFailed
	}

	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode(base.TextCode).
		WithCode(goerrors.CodeUnauthorized).
		WithMetadata(map[string]any{
			"operation": operation,
			"status":    status,
		})
}
