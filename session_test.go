package userpool_test

import (
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkside-apps/userpool"
)

func TestSessionStartsInitializing(t *testing.T) {
	session := userpool.NewSession()

	assert.Equal(t, userpool.StateInitializing, session.State())
	assert.True(t, session.IsLoading())
	assert.False(t, session.IsAuthenticated())
	assert.Nil(t, session.User())
}

func TestSessionResolveWithProfileAuthenticates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	session := userpool.NewSession(userpool.WithSessionClock(func() time.Time { return now }))
	profile := &userpool.UserProfile{Username: "alice", IsAuthenticated: true}

	assert.Nil(t, session.ResolvedAt())
	require.NoError(t, session.Resolve(profile))

	assert.Equal(t, userpool.StateAuthenticated, session.State())
	assert.Equal(t, profile, session.User())
	require.NotNil(t, session.ResolvedAt())
	assert.Equal(t, now, *session.ResolvedAt())
}

func TestSessionResolveWithoutProfileIsAnonymous(t *testing.T) {
	session := userpool.NewSession()

	require.NoError(t, session.Resolve(nil))

	assert.Equal(t, userpool.StateAnonymous, session.State())
	assert.Nil(t, session.User())
}

func TestSessionResolveTwiceIsRejected(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(nil))

	err := session.Resolve(&userpool.UserProfile{Username: "alice"})
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, userpool.TextCodeInvalidTransition, rich.TextCode)

	// The failed resolve must not have moved the session.
	assert.Equal(t, userpool.StateAnonymous, session.State())
}

func TestSessionSignedInFromAnonymous(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(nil))

	profile := &userpool.UserProfile{Username: "alice", IsAuthenticated: true}
	require.NoError(t, session.SignedIn(profile))

	assert.True(t, session.IsAuthenticated())
	assert.Equal(t, profile, session.User())
}

func TestSessionSignedInClearsLastError(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(nil))

	session.RecordFailure("Incorrect username or password.")
	assert.Equal(t, "Incorrect username or password.", session.LastError())

	require.NoError(t, session.SignedIn(&userpool.UserProfile{Username: "alice"}))
	assert.Empty(t, session.LastError())
}

func TestSessionRecordFailureKeepsState(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(nil))

	session.RecordFailure("User does not exist.")

	assert.Equal(t, userpool.StateAnonymous, session.State())
	assert.Nil(t, session.User())
}

func TestSessionSignedOutDropsUser(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(&userpool.UserProfile{Username: "alice"}))

	require.NoError(t, session.SignedOut())

	assert.Equal(t, userpool.StateAnonymous, session.State())
	assert.Nil(t, session.User())
}

func TestSessionSignedOutWhenAnonymousIsNoop(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(nil))

	require.NoError(t, session.SignedOut())
	assert.Equal(t, userpool.StateAnonymous, session.State())
}

func TestSessionExpiredDropsToAnonymous(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(&userpool.UserProfile{Username: "alice"}))

	require.NoError(t, session.Expired())

	assert.Equal(t, userpool.StateAnonymous, session.State())
	assert.Nil(t, session.User())
}

func TestSessionUserNeverSetOutsideAuthenticated(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(&userpool.UserProfile{Username: "alice"}))
	require.NoError(t, session.SignedOut())

	// Once anonymous, the profile must be gone with the state.
	assert.False(t, session.IsAuthenticated())
	assert.Nil(t, session.User())
}

func TestSessionConcurrentReadsDuringTransitions(t *testing.T) {
	session := userpool.NewSession()
	require.NoError(t, session.Resolve(nil))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = session.SignedIn(&userpool.UserProfile{Username: "alice"})
			_ = session.IsAuthenticated()
			_ = session.User()
			_ = session.SignedOut()
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, state and user agree.
	if session.IsAuthenticated() {
		assert.NotNil(t, session.User())
	} else {
		assert.Nil(t, session.User())
	}
}
