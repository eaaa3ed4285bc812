package session

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/auth"
	"github.com/vcmarket/apiserver/internal/metrics"
)

// Registry maps bearer tokens to live controllers so each signed-in client
// keeps one profile watch across requests. Controllers leave the registry
// when they reach SignedOut, including forced sign-out on ban.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	byToken  map[string]*Controller
	inflight map[string]struct{}
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Registry{
		cfg:      cfg,
		byToken:  map[string]*Controller{},
		inflight: map[string]struct{}{},
	}
}

// Register creates an account. Concurrent calls for the same normalized
// email get ErrBusy.
func (r *Registry) Register(ctx context.Context, input, password string) (*Controller, auth.Identity, error) {
	return r.authenticate(ctx, input, func(c *Controller) (auth.Identity, error) {
		return c.Register(ctx, input, password)
	})
}

// SignIn authenticates. Concurrent calls for the same normalized email get
// ErrBusy.
func (r *Registry) SignIn(ctx context.Context, input, password string) (*Controller, auth.Identity, error) {
	return r.authenticate(ctx, input, func(c *Controller) (auth.Identity, error) {
		return c.SignIn(ctx, input, password)
	})
}

func (r *Registry) authenticate(ctx context.Context, input string, run func(*Controller) (auth.Identity, error)) (*Controller, auth.Identity, error) {
	key := strings.ToLower(NormalizeEmail(input, r.cfg.EmailDomain))
	r.mu.Lock()
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return nil, auth.Identity{}, ErrBusy
	}
	r.inflight[key] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
	}()

	c := NewController(r.cfg)
	identity, err := run(c)
	if err != nil {
		c.Close()
		return nil, auth.Identity{}, err
	}
	r.track(identity.Token, c)
	return c, identity, nil
}

// Resolve verifies token with the provider and returns its controller,
// resuming one when this instance has not seen the token yet. A cached
// controller whose token was revoked or has expired is signed out.
func (r *Registry) Resolve(ctx context.Context, token string) (*Controller, error) {
	if token == "" {
		return nil, ErrNotSignedIn
	}
	identity, err := r.cfg.Provider.Verify(ctx, token)

	r.mu.Lock()
	c, ok := r.byToken[token]
	r.mu.Unlock()

	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			if ok {
				c.expire(token)
			}
			return nil, ErrNotSignedIn
		}
		return nil, mapAuthError(err)
	}
	if ok {
		return c, nil
	}

	c = NewController(r.cfg)
	if err := c.Resume(ctx, identity); err != nil {
		c.Close()
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.byToken[token]; ok {
		r.mu.Unlock()
		c.Close()
		return existing, nil
	}
	r.mu.Unlock()
	r.track(token, c)
	return c, nil
}

func (r *Registry) track(token string, c *Controller) {
	c.OnAuthStateChange(func(ev Event) {
		if ev.State == SignedOut {
			r.forget(token, c)
		}
	})
	r.mu.Lock()
	// A forced sign-out may already have happened during attach.
	if c.State() == SignedIn {
		r.byToken[token] = c
	}
	n := len(r.byToken)
	r.mu.Unlock()
	metrics.SetActiveSessions(n)
}

func (r *Registry) forget(token string, c *Controller) {
	r.mu.Lock()
	if r.byToken[token] == c {
		delete(r.byToken, token)
	}
	n := len(r.byToken)
	r.mu.Unlock()
	metrics.SetActiveSessions(n)
}

// SignOut revokes token and drops its controller.
func (r *Registry) SignOut(ctx context.Context, token string) error {
	c, err := r.Resolve(ctx, token)
	if err != nil {
		return err
	}
	return c.SignOut(ctx)
}

// Len reports the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byToken)
}

// Close stops every controller's profile watch.
func (r *Registry) Close() {
	r.mu.Lock()
	ctrls := make([]*Controller, 0, len(r.byToken))
	for _, c := range r.byToken {
		ctrls = append(ctrls, c)
	}
	r.byToken = map[string]*Controller{}
	r.mu.Unlock()
	for _, c := range ctrls {
		c.Close()
	}
	metrics.SetActiveSessions(0)
}
