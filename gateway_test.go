package userpool_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkside-apps/userpool"
)

// poolCall captures one decoded request to the fake user pool API.
type poolCall struct {
	Target string
	Body   map[string]any
}

// fakeUserPool emulates the provider's JSON RPC endpoint. Each test seeds the
// responses it needs, keyed by the operation target suffix.
type fakeUserPool struct {
	t         *testing.T
	server    *httptest.Server
	calls     []poolCall
	responses map[string]poolResponse
}

type poolResponse struct {
	status int
	body   string
}

func newFakeUserPool(t *testing.T) *fakeUserPool {
	t.Helper()

	pool := &fakeUserPool{t: t, responses: map[string]poolResponse{}}
	pool.server = httptest.NewServer(http.HandlerFunc(pool.handle))
	t.Cleanup(pool.server.Close)
	return pool
}

func (p *fakeUserPool) respond(operation string, status int, body string) {
	p.responses[operation] = poolResponse{status: status, body: body}
}

func (p *fakeUserPool) handle(w http.ResponseWriter, r *http.Request) {
	target := r.Header.Get("X-Amz-Target")

	body := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		p.t.Errorf("failed to decode request body: %v", err)
	}
	p.calls = append(p.calls, poolCall{Target: target, Body: body})

	resp, ok := p.responses[target]
	if !ok {
		p.t.Errorf("unexpected operation %q", target)
		resp = poolResponse{status: http.StatusBadRequest, body: `{"__type":"InvalidParameterException","message":"unexpected operation"}`}
	}

	w.Header().Set("Content-Type", "application/x-amz-json-1.1")
	w.WriteHeader(resp.status)
	fmt.Fprint(w, resp.body)
}

func (p *fakeUserPool) lastCall(t *testing.T) poolCall {
	t.Helper()
	require.NotEmpty(t, p.calls, "expected at least one provider call")
	return p.calls[len(p.calls)-1]
}

func newTestGateway(t *testing.T, pool *fakeUserPool, secret string) *userpool.CognitoGateway {
	t.Helper()

	return userpool.NewCognitoGateway(userpool.Config{
		Region:       "us-east-1",
		ClientID:     "client123",
		ClientSecret: secret,
		Endpoint:     pool.server.URL,
	})
}

const (
	targetSignUp      = "AWSCognitoIdentityProviderService.SignUp"
	targetConfirm     = "AWSCognitoIdentityProviderService.ConfirmSignUp"
	targetResendCode  = "AWSCognitoIdentityProviderService.ResendConfirmationCode"
	targetAuth        = "AWSCognitoIdentityProviderService.InitiateAuth"
	targetForgotPwd   = "AWSCognitoIdentityProviderService.ForgotPassword"
	targetConfirmFPwd = "AWSCognitoIdentityProviderService.ConfirmForgotPassword"
)

func TestGatewayRegisterSendsSecretHashAndEmail(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetSignUp, http.StatusOK, `{"UserSub":"sub-1234","UserConfirmed":false}`)

	gateway := newTestGateway(t, pool, "topsecret")

	sub, err := gateway.Register(context.Background(), "alice", "password-123", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "sub-1234", sub)

	call := pool.lastCall(t)
	assert.Equal(t, "client123", call.Body["ClientId"])
	assert.Equal(t, "alice", call.Body["Username"])
	assert.Equal(t, "QOaF4kSzdPw1nPLE5QMEoi2mW87FFhdfpWgk5WhA12c=", call.Body["SecretHash"])

	attrs, ok := call.Body["UserAttributes"].([]any)
	require.True(t, ok)
	require.Len(t, attrs, 1)
	attr := attrs[0].(map[string]any)
	assert.Equal(t, "email", attr["Name"])
	assert.Equal(t, "alice@example.com", attr["Value"])
}

func TestGatewayRegisterSurfacesProviderMessageVerbatim(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetSignUp, http.StatusBadRequest,
		`{"__type":"UsernameExistsException","message":"User already exists"}`)

	gateway := newTestGateway(t, pool, "topsecret")

	_, err := gateway.Register(context.Background(), "alice", "password-123", "alice@example.com")
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "User already exists", rich.Message)
	assert.Equal(t, "UsernameExistsException", rich.TextCode)
	assert.Equal(t, goerrors.CategoryConflict, rich.Category)
}

func TestGatewayPublicClientOmitsSecretHash(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetSignUp, http.StatusOK, `{"UserSub":"sub-1234"}`)

	gateway := newTestGateway(t, pool, "")

	_, err := gateway.Register(context.Background(), "alice", "password-123", "alice@example.com")
	require.NoError(t, err)

	call := pool.lastCall(t)
	_, present := call.Body["SecretHash"]
	assert.False(t, present)
}

func TestGatewayConfirmRegistrationSendsCode(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetConfirm, http.StatusOK, `{}`)

	gateway := newTestGateway(t, pool, "topsecret")

	require.NoError(t, gateway.ConfirmRegistration(context.Background(), "alice", "123456"))

	call := pool.lastCall(t)
	assert.Equal(t, "123456", call.Body["ConfirmationCode"])
	assert.NotEmpty(t, call.Body["SecretHash"])
}

func TestGatewayConfirmRegistrationSurfacesCodeMismatch(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetConfirm, http.StatusBadRequest,
		`{"__type":"CodeMismatchException","message":"Invalid verification code provided, please try again."}`)

	gateway := newTestGateway(t, pool, "topsecret")

	err := gateway.ConfirmRegistration(context.Background(), "alice", "000000")
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "Invalid verification code provided, please try again.", rich.Message)
	assert.Equal(t, "CodeMismatchException", rich.TextCode)
}

func TestGatewayResendConfirmationCode(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetResendCode, http.StatusOK, `{"CodeDeliveryDetails":{"Destination":"a***@e***"}}`)

	gateway := newTestGateway(t, pool, "topsecret")

	require.NoError(t, gateway.ResendConfirmationCode(context.Background(), "alice"))
	assert.Equal(t, "alice", pool.lastCall(t).Body["Username"])
}

func TestGatewaySignInStoresFullTokenSet(t *testing.T) {
	pool := newFakeUserPool(t)

	idToken := mintUserToken(t, "alice", time.Now().Add(time.Hour))
	pool.respond(targetAuth, http.StatusOK, fmt.Sprintf(
		`{"AuthenticationResult":{"IdToken":%q,"AccessToken":"access-token","RefreshToken":"refresh-token","ExpiresIn":3600,"TokenType":"Bearer"}}`,
		idToken))

	gateway := newTestGateway(t, pool, "topsecret")
	store := userpool.NewMemoryTokenStore()

	profile, err := gateway.SignIn(context.Background(), store, "alice", "password-123")
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.True(t, profile.IsAuthenticated)

	loaded := store.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, idToken, loaded.IdentityToken)
	assert.Equal(t, "access-token", loaded.AccessToken)
	assert.Equal(t, "refresh-token", loaded.RefreshToken)

	call := pool.lastCall(t)
	params, ok := call.Body["AuthParameters"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", params["USERNAME"])
	assert.Equal(t, "password-123", params["PASSWORD"])
	assert.Equal(t, "QOaF4kSzdPw1nPLE5QMEoi2mW87FFhdfpWgk5WhA12c=", params["SECRET_HASH"])
	assert.Equal(t, "USER_PASSWORD_AUTH", call.Body["AuthFlow"])
}

func TestGatewaySignInRejectionLeavesStoreEmpty(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetAuth, http.StatusBadRequest,
		`{"__type":"NotAuthorizedException","message":"Incorrect username or password."}`)

	gateway := newTestGateway(t, pool, "topsecret")
	store := userpool.NewMemoryTokenStore()

	_, err := gateway.SignIn(context.Background(), store, "alice", "wrong")
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "Incorrect username or password.", rich.Message)
	assert.Equal(t, goerrors.CategoryAuth, rich.Category)

	assert.Nil(t, store.Load())
}

func TestGatewaySignInMissingAuthResultIsError(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetAuth, http.StatusOK, `{"ChallengeName":"SMS_MFA","ChallengeParameters":{}}`)

	gateway := newTestGateway(t, pool, "topsecret")
	store := userpool.NewMemoryTokenStore()

	_, err := gateway.SignIn(context.Background(), store, "alice", "password-123")
	require.Error(t, err)
	assert.Nil(t, store.Load())
}

func TestGatewayForgotPasswordFlow(t *testing.T) {
	pool := newFakeUserPool(t)
	pool.respond(targetForgotPwd, http.StatusOK, `{"CodeDeliveryDetails":{"Destination":"a***@e***"}}`)
	pool.respond(targetConfirmFPwd, http.StatusOK, `{}`)

	gateway := newTestGateway(t, pool, "topsecret")

	require.NoError(t, gateway.ForgotPassword(context.Background(), "alice"))
	require.NoError(t, gateway.ConfirmForgotPassword(context.Background(), "alice", "123456", "new-password-1"))

	call := pool.lastCall(t)
	assert.Equal(t, "123456", call.Body["ConfirmationCode"])
	assert.Equal(t, "new-password-1", call.Body["Password"])
}

func TestGatewaySignOutClearsStore(t *testing.T) {
	pool := newFakeUserPool(t)
	gateway := newTestGateway(t, pool, "topsecret")

	store := userpool.NewMemoryTokenStore()
	require.NoError(t, store.Save(completeTokenSet(t, "alice", time.Now().Add(time.Hour))))

	gateway.SignOut(store)

	assert.Nil(t, store.Load())
	assert.Empty(t, pool.calls, "sign-out must not call the provider")
}
