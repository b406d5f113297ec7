package localbase

import (
	"errors"
	"testing"
	"time"
)

func TestAuth_signInAndOut(t *testing.T) {
	db := setup(t)
	auth := NewAuth(db, AuthOptions{})

	isnil(t, must(auth.GetSession()))

	res := must(auth.SignIn("google"))
	deepEqual(t, res.RedirectTo, "/")
	deepEqual(t, res.Provider, "google")
	deepEqual(t, res.Session.User, *DefaultDemoUser())
	deepEqual(t, res.Session.TokenType, "bearer")
	deepEqual(t, res.Session.ExpiresAt, testStart.Add(time.Second+time.Hour).Unix())

	sess := must(auth.GetSession())
	isnonnil(t, sess)
	deepEqual(t, sess, res.Session)

	ensure(auth.SignOut())
	isnil(t, must(auth.GetSession()))
	ensure(auth.SignOut())
}

func TestAuth_anyProviderGivesDemoUser(t *testing.T) {
	db := setup(t)
	auth := NewAuth(db, AuthOptions{})
	for _, provider := range []string{"google", "github", ""} {
		res := must(auth.SignIn(provider))
		deepEqual(t, res.Session.User.ID, DemoUserID)
		deepEqual(t, res.Session.User.Email, DemoUserEmail)
	}
}

func TestAuth_customOptions(t *testing.T) {
	db := setup(t)
	auth := NewAuth(db, AuthOptions{
		DemoUser:   &User{ID: "u1", Email: "u1@example.com"},
		RedirectTo: "/studio",
	})
	res := must(auth.SignIn("google"))
	deepEqual(t, res.RedirectTo, "/studio")
	deepEqual(t, res.Session.User, User{ID: "u1", Email: "u1@example.com", UserMetadata: map[string]any{}})
}

func TestAuth_sessionSurvivesReopen(t *testing.T) {
	opt := testOptions()
	db := setupWith(t, opt)
	sess := must(NewAuth(db, AuthOptions{}).SignIn("google")).Session

	db = reopen(t, db, opt)
	deepEqual(t, must(NewAuth(db, AuthOptions{}).GetSession()), sess)
}

func TestAuth_updateUser(t *testing.T) {
	db := setup(t)
	auth := NewAuth(db, AuthOptions{})

	_, err := auth.UpdateUser(map[string]any{"full_name": "X"})
	if !errors.Is(err, ErrNoSession) {
		t.Fatalf("UpdateUser without session err = %v, wanted ErrNoSession", err)
	}
	deepEqual(t, err.Error(), "no session")

	must(auth.SignIn("google"))
	u := must(auth.UpdateUser(map[string]any{"full_name": "Jane", "channel": map[string]any{"subscribers": 3}}))
	deepEqual(t, u.UserMetadata, map[string]any{
		"avatar_url": DefaultDemoUser().UserMetadata["avatar_url"],
		"full_name":  "Jane",
		"channel":    map[string]any{"subscribers": 3.0},
	})
	deepEqual(t, must(auth.GetSession()).User, *u)

	// Signing in again starts from the demo user.
	must(auth.SignIn("google"))
	deepEqual(t, must(auth.GetSession()).User.UserMetadata["full_name"], any("Demo User"))
}

func TestAuth_onAuthStateChange(t *testing.T) {
	db := setup(t)
	auth := NewAuth(db, AuthOptions{})

	type event struct {
		ev   AuthEvent
		name any
	}
	var got []event
	sub := auth.OnAuthStateChange(func(ev AuthEvent, sess *Session) {
		var name any
		if sess != nil {
			name = sess.User.UserMetadata["full_name"]
		}
		got = append(got, event{ev, name})
	})

	must(auth.SignIn("google"))
	must(auth.UpdateUser(map[string]any{"full_name": "Jane"}))
	ensure(auth.SignOut())
	sub.Unsubscribe()
	sub.Unsubscribe()
	must(auth.SignIn("google"))

	deepEqual(t, got, []event{
		{SignedOut, nil},
		{SignedIn, "Demo User"},
		{UserUpdated, "Jane"},
		{SignedOut, nil},
	})

	// A listener registered while signed in is told so immediately.
	var initial AuthEvent
	var initialSess *Session
	auth.OnAuthStateChange(func(ev AuthEvent, sess *Session) {
		if initial == "" {
			initial, initialSess = ev, sess
		}
	})
	deepEqual(t, initial, SignedIn)
	isnonnil(t, initialSess)
}

func TestAuth_listenersCannotCorruptSession(t *testing.T) {
	db := setup(t)
	auth := NewAuth(db, AuthOptions{})
	auth.OnAuthStateChange(func(ev AuthEvent, sess *Session) {
		if sess != nil {
			sess.User.UserMetadata["full_name"] = "tampered"
		}
	})
	res := must(auth.SignIn("google"))
	deepEqual(t, res.Session.User.UserMetadata["full_name"], any("Demo User"))
	deepEqual(t, must(auth.GetSession()).User.UserMetadata["full_name"], any("Demo User"))
}

func TestAuth_accessToken(t *testing.T) {
	now := testStart
	opt := testOptions()
	opt.Now = func() time.Time { return now }
	db := setupWith(t, opt)
	auth := NewAuth(db, AuthOptions{TokenTTL: time.Minute})

	sess := must(auth.SignIn("github")).Session
	claims := must(auth.VerifyAccessToken(sess.AccessToken))
	deepEqual(t, claims.Subject, DemoUserID)
	deepEqual(t, claims.Email, DemoUserEmail)
	deepEqual(t, claims.Provider, "github")
	deepEqual(t, claims.Issuer, "localbase")
	deepEqual(t, claims.ID, "id001")
	deepEqual(t, claims.ExpiresAt.Unix(), testStart.Add(time.Minute).Unix())

	other := NewAuth(db, AuthOptions{TokenSecret: []byte("other")})
	if _, err := other.VerifyAccessToken(sess.AccessToken); err == nil {
		t.Errorf("token verified with the wrong secret")
	}
	if _, err := auth.VerifyAccessToken("mock-token"); err == nil {
		t.Errorf("garbage token verified")
	}

	now = now.Add(2 * time.Minute)
	if _, err := auth.VerifyAccessToken(sess.AccessToken); err == nil {
		t.Errorf("expired token verified")
	}
}
