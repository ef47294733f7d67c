package userpool

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go"
	goerrors "github.com/goliatone/go-errors"
)

var _ Gateway = (*CognitoGateway)(nil)

// CognitoGateway talks to a Cognito-style user pool: the native sign-up /
// sign-in / confirmation RPCs plus the hosted UI's OAuth2 endpoints. Every
// operation resolves or fails exactly once; nothing is retried here.
type CognitoGateway struct {
	cfg        Config
	hasher     *SecretHasher
	idp        *cognitoidentityprovider.Client
	httpClient *http.Client
	logger     Logger
}

// GatewayOption customizes gateway construction.
type GatewayOption func(*CognitoGateway)

// WithGatewayLogger overrides the logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *CognitoGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithGatewayHTTPClient overrides the HTTP client used for both the user pool
// API and the hosted token endpoint.
func WithGatewayHTTPClient(client *http.Client) GatewayOption {
	return func(g *CognitoGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// NewCognitoGateway returns a gateway for the pool described by cfg. The user
// pool RPCs used here are unauthenticated; requests are signed only with the
// secret hash when a client secret is configured.
func NewCognitoGateway(cfg Config, opts ...GatewayOption) *CognitoGateway {
	g := &CognitoGateway{
		cfg:        cfg,
		logger:     defLogger{},
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	g.hasher = NewSecretHasher(cfg.ClientID, cfg.ClientSecret).WithLogger(g.logger)

	idpOpts := cognitoidentityprovider.Options{
		Region:      cfg.Region,
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  g.httpClient,
	}
	if cfg.Endpoint != "" {
		idpOpts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	g.idp = cognitoidentityprovider.New(idpOpts)

	return g
}

// Register submits a sign-up request with the email attribute and returns the
// created user identifier. Provider rejections surface verbatim.
func (g *CognitoGateway) Register(ctx context.Context, username, password, email string) (string, error) {
	input := &cognitoidentityprovider.SignUpInput{
		ClientId: aws.String(g.cfg.ClientID),
		Username: aws.String(username),
		Password: aws.String(password),
		UserAttributes: []types.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		},
	}
	if tag := g.hasher.Compute(username); tag != "" {
		input.SecretHash = aws.String(tag)
	}

	out, err := g.idp.SignUp(ctx, input)
	if err != nil {
		g.logger.Info("sign-up rejected", "username", username, "error", err)
		return "", g.providerError("sign_up", err)
	}

	return aws.ToString(out.UserSub), nil
}

// ConfirmRegistration submits the confirmation code. Success moves the
// account to confirmed on the provider side; no local state changes.
func (g *CognitoGateway) ConfirmRegistration(ctx context.Context, username, code string) error {
	input := &cognitoidentityprovider.ConfirmSignUpInput{
		ClientId:         aws.String(g.cfg.ClientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
	}
	if tag := g.hasher.Compute(username); tag != "" {
		input.SecretHash = aws.String(tag)
	}

	if _, err := g.idp.ConfirmSignUp(ctx, input); err != nil {
		return g.providerError("confirm_sign_up", err)
	}
	return nil
}

// ResendConfirmationCode asks the provider to send a fresh code. Callers
// report failures inline and carry on; resending never aborts a larger flow.
func (g *CognitoGateway) ResendConfirmationCode(ctx context.Context, username string) error {
	input := &cognitoidentityprovider.ResendConfirmationCodeInput{
		ClientId: aws.String(g.cfg.ClientID),
		Username: aws.String(username),
	}
	if tag := g.hasher.Compute(username); tag != "" {
		input.SecretHash = aws.String(tag)
	}

	if _, err := g.idp.ResendConfirmationCode(ctx, input); err != nil {
		return g.providerError("resend_confirmation_code", err)
	}
	return nil
}

// SignIn runs the direct credential flow. On success the full token set is
// stored and the decoded profile returned; on failure nothing is written.
func (g *CognitoGateway) SignIn(ctx context.Context, store TokenStore, username, password string) (*UserProfile, error) {
	params := map[string]string{
		"USERNAME": username,
		"PASSWORD": password,
	}
	if tag := g.hasher.Compute(username); tag != "" {
		params["SECRET_HASH"] = tag
	}

	out, err := g.idp.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserPasswordAuth,
		ClientId:       aws.String(g.cfg.ClientID),
		AuthParameters: params,
	})
	if err != nil {
		g.logger.Info("sign-in rejected", "username", username, "error", err)
		return nil, g.providerError("initiate_auth", err)
	}

	result := out.AuthenticationResult
	if result == nil {
		return nil, goerrors.New("authentication result missing from provider response", goerrors.CategoryAuth).
			WithTextCode(TextCodeProviderRejection).
			WithCode(goerrors.CodeUnauthorized)
	}

	tokens := TokenSet{
		IdentityToken: aws.ToString(result.IdToken),
		AccessToken:   aws.ToString(result.AccessToken),
		RefreshToken:  aws.ToString(result.RefreshToken),
	}

	return storeAndDecode(store, tokens)
}

// ForgotPassword starts the password reset flow; the provider emails a code.
func (g *CognitoGateway) ForgotPassword(ctx context.Context, username string) error {
	input := &cognitoidentityprovider.ForgotPasswordInput{
		ClientId: aws.String(g.cfg.ClientID),
		Username: aws.String(username),
	}
	if tag := g.hasher.Compute(username); tag != "" {
		input.SecretHash = aws.String(tag)
	}

	if _, err := g.idp.ForgotPassword(ctx, input); err != nil {
		return g.providerError("forgot_password", err)
	}
	return nil
}

// ConfirmForgotPassword finalizes the reset with the emailed code.
func (g *CognitoGateway) ConfirmForgotPassword(ctx context.Context, username, code, newPassword string) error {
	input := &cognitoidentityprovider.ConfirmForgotPasswordInput{
		ClientId:         aws.String(g.cfg.ClientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
	}
	if tag := g.hasher.Compute(username); tag != "" {
		input.SecretHash = aws.String(tag)
	}

	if _, err := g.idp.ConfirmForgotPassword(ctx, input); err != nil {
		return g.providerError("confirm_forgot_password", err)
	}
	return nil
}

// SignOut clears the local token set. It never touches the network;
// invalidating the session at the provider is a hardening item handled by the
// hosted logout redirect.
func (g *CognitoGateway) SignOut(store TokenStore) {
	store.Clear()
}

// storeAndDecode writes the token set and returns the profile it asserts.
// Save is all-or-nothing, so a partial provider response stores nothing.
func storeAndDecode(store TokenStore, tokens TokenSet) (*UserProfile, error) {
	profile, err := ProfileFromIdentityToken(tokens.IdentityToken)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryAuth, "failed to decode identity token").
			WithTextCode(TextCodeProviderRejection).
			WithCode(goerrors.CodeUnauthorized)
	}

	if err := store.Save(tokens); err != nil {
		return nil, err
	}

	return profile, nil
}

// providerError maps a provider or transport failure into the error taxonomy.
// Provider messages pass through verbatim so forms can show them as-is.
func (g *CognitoGateway) providerError(operation string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		category := goerrors.CategoryAuth
		code := goerrors.CodeUnauthorized

		switch apiErr.ErrorCode() {
		case "UsernameExistsException", "AliasExistsException":
			category, code = goerrors.CategoryConflict, goerrors.CodeConflict
		case "InvalidPasswordException", "InvalidParameterException":
			category, code = goerrors.CategoryValidation, goerrors.CodeBadRequest
		case "UserNotFoundException":
			category, code = goerrors.CategoryNotFound, goerrors.CodeNotFound
		}

		return goerrors.New(apiErr.ErrorMessage(), category).
			WithTextCode(apiErr.ErrorCode()).
			WithCode(code).
			WithMetadata(map[string]any{"operation": operation})
	}

	return goerrors.Wrap(err, goerrors.CategoryInternal, "identity provider request failed").
		WithTextCode(TextCodeTransportFailure).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"operation": operation})
}
