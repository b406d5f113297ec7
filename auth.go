package localbase

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type (
	User struct {
		ID           string         `json:"id"`
		Email        string         `json:"email"`
		UserMetadata map[string]any `json:"user_metadata"`
	}

	// Session is the persisted principal. At most one exists per store.
	Session struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresAt   int64  `json:"expires_at"`
		User        User   `json:"user"`
	}

	AuthEvent string

	AuthOptions struct {
		// DemoUser is the principal every sign-in produces, whatever the provider.
		DemoUser *User

		// RedirectTo is where a client should navigate once sign-in completes.
		RedirectTo string

		// TokenSecret signs emulated access tokens.
		TokenSecret []byte
		TokenTTL    time.Duration
		Issuer      string
	}

	SignInResult struct {
		Session    *Session
		Provider   string
		RedirectTo string
	}

	// AccessClaims are carried by emulated access tokens.
	AccessClaims struct {
		Email    string `json:"email"`
		Provider string `json:"provider,omitempty"`
		jwt.RegisteredClaims
	}
)

const (
	SignedIn    AuthEvent = "SIGNED_IN"
	SignedOut   AuthEvent = "SIGNED_OUT"
	UserUpdated AuthEvent = "USER_UPDATED"
)

const (
	DemoUserID    = "mock-user-id"
	DemoUserEmail = "demo@utube.local"

	defaultTokenTTL = time.Hour
	defaultIssuer   = "localbase"
)

var defaultTokenSecret = []byte("localbase-development-secret")

func DefaultDemoUser() *User {
	return &User{
		ID:    DemoUserID,
		Email: DemoUserEmail,
		UserMetadata: map[string]any{
			"avatar_url": "https://api.dicebear.com/7.x/avataaars/svg?seed=Felix",
			"full_name":  "Demo User",
		},
	}
}

func (u *User) clone() User {
	c := *u
	c.UserMetadata = maps.Clone(u.UserMetadata)
	if c.UserMetadata == nil {
		c.UserMetadata = map[string]any{}
	}
	return c
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.clone()
	return &c
}

// Auth is the session store. Create one per DB at startup and hand it to
// whatever needs the current principal.
type Auth struct {
	db   *DB
	opts AuthOptions

	listenersLock sync.Mutex
	listeners     map[int]func(AuthEvent, *Session)
	nextListener  int
}

func NewAuth(db *DB, opt AuthOptions) *Auth {
	if opt.DemoUser == nil {
		opt.DemoUser = DefaultDemoUser()
	}
	if opt.RedirectTo == "" {
		opt.RedirectTo = "/"
	}
	if len(opt.TokenSecret) == 0 {
		opt.TokenSecret = defaultTokenSecret
	}
	if opt.TokenTTL == 0 {
		opt.TokenTTL = defaultTokenTTL
	}
	if opt.Issuer == "" {
		opt.Issuer = defaultIssuer
	}
	return &Auth{
		db:        db,
		opts:      opt,
		listeners: make(map[int]func(AuthEvent, *Session)),
	}
}

// GetSession returns the persisted session, or nil if nobody is signed in.
func (a *Auth) GetSession() (*Session, error) {
	var sess *Session
	err := a.db.Read(func(tx *Tx) error {
		var err error
		sess, err = a.loadSession(tx)
		return err
	})
	return sess, err
}

func (a *Auth) loadSession(tx *Tx) (*Session, error) {
	var sess Session
	found, err := tx.getValue(sessionKeyName, a.db.sessionKey(), &sess)
	if err != nil || !found {
		return nil, err
	}
	md, err := normalizeRecord(sess.User.UserMetadata)
	if err != nil {
		return nil, tableErrf(sessionKeyName, a.db.sessionKey(), err, "user_metadata")
	}
	sess.User.UserMetadata = md
	return &sess, nil
}

// SignIn signs the demo user in, whatever provider is requested, replacing
// any existing session. A browser client would now navigate to RedirectTo.
func (a *Auth) SignIn(provider string) (*SignInResult, error) {
	now := a.db.now()
	user := a.opts.DemoUser.clone()
	md, err := normalizeRecord(user.UserMetadata)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	user.UserMetadata = md

	token, err := a.issueToken(&user, provider, now)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	sess := &Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   now.Add(a.opts.TokenTTL).Unix(),
		User:        user,
	}

	err = a.db.Write(func(tx *Tx) error {
		return tx.putValue(sessionKeyName, a.db.sessionKey(), sess)
	})
	if err != nil {
		return nil, err
	}
	a.db.logger.LogAttrs(context.Background(), slog.LevelInfo, "localbase: signed in", slog.String("provider", provider), slog.String("user", user.Email))
	a.emit(SignedIn, sess)
	return &SignInResult{Session: sess.clone(), Provider: provider, RedirectTo: a.opts.RedirectTo}, nil
}

// SignOut removes the session. Signing out while signed out is not an error.
func (a *Auth) SignOut() error {
	err := a.db.Write(func(tx *Tx) error {
		return tx.deleteValue(sessionKeyName, a.db.sessionKey())
	})
	if err != nil {
		return err
	}
	a.emit(SignedOut, nil)
	return nil
}

// UpdateUser merges metadata into the signed-in user's user_metadata and
// persists the session. Returns ErrNoSession if nobody is signed in.
func (a *Auth) UpdateUser(metadata map[string]any) (*User, error) {
	patch, err := normalizeRecord(metadata)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	var sess *Session
	err = a.db.Write(func(tx *Tx) error {
		var err error
		sess, err = a.loadSession(tx)
		if err != nil {
			return err
		}
		if sess == nil {
			return ErrNoSession
		}
		maps.Copy(sess.User.UserMetadata, patch)
		return tx.putValue(sessionKeyName, a.db.sessionKey(), sess)
	})
	if err != nil {
		return nil, err
	}
	a.emit(UserUpdated, sess)
	u := sess.User.clone()
	return &u, nil
}

// AuthSubscription is returned by OnAuthStateChange.
type AuthSubscription struct {
	auth *Auth
	id   int
}

// Unsubscribe stops further callbacks. It is safe to call more than once.
func (s *AuthSubscription) Unsubscribe() {
	s.auth.listenersLock.Lock()
	defer s.auth.listenersLock.Unlock()
	delete(s.auth.listeners, s.id)
}

// OnAuthStateChange calls callback immediately with the current state
// (SignedIn with the session, or SignedOut with nil), then on every later
// sign-in, sign-out and user update until unsubscribed.
func (a *Auth) OnAuthStateChange(callback func(event AuthEvent, session *Session)) *AuthSubscription {
	a.listenersLock.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = callback
	a.listenersLock.Unlock()

	sess, err := a.GetSession()
	if err != nil {
		a.db.logger.LogAttrs(context.Background(), slog.LevelWarn, "localbase: reading session for listener", slog.Any("err", err))
	}
	if sess != nil {
		callback(SignedIn, sess)
	} else {
		callback(SignedOut, nil)
	}
	return &AuthSubscription{auth: a, id: id}
}

func (a *Auth) emit(event AuthEvent, sess *Session) {
	a.listenersLock.Lock()
	var fns []func(AuthEvent, *Session)
	for i := 0; i < a.nextListener; i++ {
		if fn := a.listeners[i]; fn != nil {
			fns = append(fns, fn)
		}
	}
	a.listenersLock.Unlock()

	for _, fn := range fns {
		fn(event, sess.clone())
	}
}

func (a *Auth) issueToken(user *User, provider string, now time.Time) (string, error) {
	claims := AccessClaims{
		Email:    user.Email,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.opts.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.opts.TokenTTL)),
			ID:        a.db.newID(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.opts.TokenSecret)
}

// VerifyAccessToken checks a token issued by SignIn and returns its claims.
func (a *Auth) VerifyAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.opts.TokenSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.opts.Issuer),
		jwt.WithTimeFunc(a.db.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claims, nil
}
