// Package session owns signed-in identity state: sign-in, registration and
// sign-out against the auth provider, plus a live watch of the profile
// record that forces sign-out when the account is banned.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/auth"
	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/types"
)

const forcedSignOutTimeout = 5 * time.Second

// State is the controller's position in the session state machine.
type State int

const (
	SignedOut State = iota
	SignedIn
	// Banned is passed through on the way to SignedOut when the profile
	// record is flagged.
	Banned
)

func (s State) String() string {
	switch s {
	case SignedIn:
		return "signed_in"
	case Banned:
		return "banned"
	default:
		return "signed_out"
	}
}

// Reasons attached to state change events.
const (
	ReasonSignIn   = "sign_in"
	ReasonRegister = "register"
	ReasonResume   = "resume"
	ReasonProfile  = "profile"
	ReasonSignOut  = "sign_out"
	ReasonBanned   = "banned"
	ReasonExpired  = "expired"
)

// Event describes one state transition.
type Event struct {
	State  State
	UserID string
	Reason string
}

// Config carries a controller's collaborators.
type Config struct {
	Provider    auth.Provider
	Docs        docstore.Store
	Users       *catalog.UserCache
	EmailDomain string
	Logger      *zap.Logger
}

// Controller tracks one client's identity. It is safe for concurrent use.
type Controller struct {
	provider auth.Provider
	docs     docstore.Store
	users    *catalog.UserCache
	domain   string
	logger   *zap.Logger

	busy atomic.Bool

	mu       sync.Mutex
	state    State
	identity *auth.Identity
	profile  *types.User
	watch    docstore.Subscription
	expiry   *time.Timer
	epoch    uint64

	listenMu  sync.Mutex
	listeners map[int]func(Event)
	nextID    int
}

func NewController(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	users := cfg.Users
	if users == nil {
		users = catalog.NewUserCache(cfg.Docs)
	}
	return &Controller{
		provider:  cfg.Provider,
		docs:      cfg.Docs,
		users:     users,
		domain:    cfg.EmailDomain,
		logger:    logger,
		listeners: map[int]func(Event){},
	}
}

// Register creates an account for a username-or-email input, writes the
// default profile and signs in.
func (c *Controller) Register(ctx context.Context, input, password string) (auth.Identity, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return auth.Identity{}, ErrBusy
	}
	defer c.busy.Store(false)

	if strings.TrimSpace(input) == "" {
		return auth.Identity{}, ErrEmptyInput
	}
	identity, err := c.provider.Register(ctx, NormalizeEmail(input, c.domain), password)
	if err != nil {
		return auth.Identity{}, mapAuthError(err)
	}
	if err := c.attach(ctx, identity, ReasonRegister, DeriveUsername(input)); err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

// SignIn authenticates a username-or-email input.
func (c *Controller) SignIn(ctx context.Context, input, password string) (auth.Identity, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return auth.Identity{}, ErrBusy
	}
	defer c.busy.Store(false)

	if strings.TrimSpace(input) == "" {
		return auth.Identity{}, ErrEmptyInput
	}
	identity, err := c.provider.SignIn(ctx, NormalizeEmail(input, c.domain), password)
	if err != nil {
		return auth.Identity{}, mapAuthError(err)
	}
	if err := c.attach(ctx, identity, ReasonSignIn, DeriveUsername(identity.Email)); err != nil {
		return auth.Identity{}, err
	}
	return identity, nil
}

// Resume re-attaches an identity the provider has already verified.
func (c *Controller) Resume(ctx context.Context, identity auth.Identity) error {
	return c.attach(ctx, identity, ReasonResume, DeriveUsername(identity.Email))
}

// attach writes the default profile if the account has none, enters
// SignedIn and starts the profile watch. A profile that is already banned
// signs straight back out and yields ErrBanned.
func (c *Controller) attach(ctx context.Context, identity auth.Identity, reason, username string) error {
	if err := c.ensureProfile(ctx, identity.UserID, username); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.watch
	prevExpiry := c.expiry
	c.watch = nil
	c.expiry = nil
	c.epoch++
	epoch := c.epoch
	c.identity = &identity
	c.profile = nil
	c.state = SignedIn
	if !identity.ExpiresAt.IsZero() {
		c.expiry = time.AfterFunc(time.Until(identity.ExpiresAt), func() {
			c.detach(epoch, ReasonExpired)
		})
	}
	c.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}
	if prevExpiry != nil {
		prevExpiry.Stop()
	}
	c.emit(Event{State: SignedIn, UserID: identity.UserID, Reason: reason})

	sub, err := c.users.Watch(ctx, identity.UserID, func(u types.User, exists bool) {
		c.onProfile(epoch, u, exists)
	})
	if err != nil {
		c.detach(epoch, ReasonSignOut)
		return fmt.Errorf("watch profile: %w", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		sub.Unsubscribe()
		return ErrBanned
	}
	c.watch = sub
	c.mu.Unlock()
	return nil
}

// ensureProfile writes the default profile for uid when the record is
// missing, e.g. after a registration whose profile write failed.
func (c *Controller) ensureProfile(ctx context.Context, uid, username string) error {
	path := catalog.UserPath(uid)
	snap, err := c.docs.FetchOnce(ctx, path, docstore.Query{})
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if snap.Exists {
		return nil
	}
	if username == "" {
		username = uid
	}
	if err := c.docs.Write(ctx, path, types.NewUser("", username)); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

func (c *Controller) onProfile(epoch uint64, u types.User, exists bool) {
	c.mu.Lock()
	if c.epoch != epoch || c.identity == nil {
		c.mu.Unlock()
		return
	}
	if !exists {
		c.profile = nil
		c.mu.Unlock()
		return
	}
	if u.Banned {
		token := c.identity.Token
		c.state = Banned
		c.mu.Unlock()

		c.logger.Info("forcing sign-out of banned user", zap.String("user_id", u.ID))
		c.emit(Event{State: Banned, UserID: u.ID, Reason: ReasonBanned})

		ctx, cancel := context.WithTimeout(context.Background(), forcedSignOutTimeout)
		defer cancel()
		if err := c.provider.SignOut(ctx, token); err != nil {
			c.logger.Warn("revoke banned session failed", zap.String("user_id", u.ID), zap.Error(err))
		}
		c.detach(epoch, ReasonBanned)
		return
	}
	profile := u
	c.profile = &profile
	c.mu.Unlock()
	c.emit(Event{State: SignedIn, UserID: u.ID, Reason: ReasonProfile})
}

// detach drops identity state for epoch and lands in SignedOut.
func (c *Controller) detach(epoch uint64, reason string) {
	c.mu.Lock()
	if c.epoch != epoch || c.identity == nil {
		c.mu.Unlock()
		return
	}
	uid := c.identity.UserID
	watch := c.watch
	expiry := c.expiry
	c.watch = nil
	c.expiry = nil
	c.identity = nil
	c.profile = nil
	c.state = SignedOut
	c.epoch++
	c.mu.Unlock()

	if expiry != nil {
		expiry.Stop()
	}
	if watch != nil {
		watch.Unsubscribe()
	}
	c.emit(Event{State: SignedOut, UserID: uid, Reason: reason})
}

// expire signs out without revoking when token is still the current one.
// The provider has already rejected it.
func (c *Controller) expire(token string) {
	c.mu.Lock()
	if c.identity == nil || c.identity.Token != token {
		c.mu.Unlock()
		return
	}
	epoch := c.epoch
	c.mu.Unlock()
	c.detach(epoch, ReasonExpired)
}

// SignOut revokes the current token and returns to SignedOut.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	if c.identity == nil {
		c.mu.Unlock()
		return ErrNotSignedIn
	}
	token := c.identity.Token
	epoch := c.epoch
	c.mu.Unlock()

	err := c.provider.SignOut(ctx, token)
	c.detach(epoch, ReasonSignOut)
	if err != nil {
		return mapAuthError(err)
	}
	return nil
}

// Close stops the profile watch and expiry timer without revoking the token.
func (c *Controller) Close() {
	c.mu.Lock()
	watch := c.watch
	expiry := c.expiry
	c.watch = nil
	c.expiry = nil
	c.epoch++
	c.mu.Unlock()
	if expiry != nil {
		expiry.Stop()
	}
	if watch != nil {
		watch.Unsubscribe()
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the signed-in identity.
func (c *Controller) Identity() (auth.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return auth.Identity{}, false
	}
	return *c.identity, true
}

// Actor returns a copy of the signed-in profile, or nil when signed out or
// before the profile has loaded.
func (c *Controller) Actor() *types.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil || c.profile == nil {
		return nil
	}
	u := *c.profile
	return &u
}

// OnAuthStateChange registers fn for every transition. Call the returned
// func to stop.
func (c *Controller) OnAuthStateChange(fn func(Event)) func() {
	c.listenMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenMu.Lock()
			delete(c.listeners, id)
			c.listenMu.Unlock()
		})
	}
}

func (c *Controller) emit(ev Event) {
	c.listenMu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
