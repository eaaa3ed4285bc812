package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/vcmarket/apiserver/internal/catalog"
	"github.com/vcmarket/apiserver/internal/docstore"
	"github.com/vcmarket/apiserver/internal/permissions"
	"github.com/vcmarket/apiserver/internal/upload"
	"github.com/vcmarket/apiserver/types"
)

// UserDirectory resolves profiles and takes the optimistic avatar patch.
type UserDirectory interface {
	Lookup(ctx context.Context, id string) (types.User, error)
	PatchProfilePic(id, url string)
	Forget(id string)
}

// UserChange is a moderation request. Nil fields are left untouched.
type UserChange struct {
	Role   *types.Role `json:"role,omitempty"`
	Muted  *bool       `json:"muted,omitempty"`
	Banned *bool       `json:"banned,omitempty"`
}

// ProfileChange is a self-service profile edit. Nil fields are left
// untouched.
type ProfileChange struct {
	Bio           *string        `json:"bio,omitempty" validate:"omitempty,max=500"`
	ProfileBorder *string        `json:"profileBorder,omitempty"`
	CustomColor   *string        `json:"customColor,omitempty" validate:"omitempty,hexcolor"`
	ProfilePic    *string        `json:"profilePic,omitempty" validate:"omitempty,url"`
	Socials       *types.Socials `json:"socials,omitempty"`
}

// UserService runs profile and moderation mutations.
type UserService struct {
	docs     docstore.Store
	users    UserDirectory
	host     upload.Host
	validate *validator.Validate
	logger   *zap.Logger

	mu    sync.Mutex
	slots map[string]*avatarSlot
}

type avatarSlot struct {
	slot  upload.Slot
	users int
}

func NewUserService(docs docstore.Store, users UserDirectory, host upload.Host, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		docs:     docs,
		users:    users,
		host:     host,
		validate: newValidator(),
		logger:   logger,
		slots:    map[string]*avatarSlot{},
	}
}

// GetByID returns a profile.
func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	u, err := s.users.Lookup(ctx, id)
	if errors.Is(err, catalog.ErrUserNotFound) {
		return types.User{}, ErrUserNotFound
	}
	return u, err
}

// AdminUpdate applies a moderation change to uid. Role changes need
// ManageRoles and never apply to the actor's own record; mute and ban need
// ModerateUsers. Only the changed fields are written.
func (s *UserService) AdminUpdate(ctx context.Context, actor *types.User, uid string, change UserChange) error {
	return record("user_admin_update", s.adminUpdate(ctx, actor, uid, change))
}

func (s *UserService) adminUpdate(ctx context.Context, actor *types.User, uid string, change UserChange) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	if change.Role == nil && change.Muted == nil && change.Banned == nil {
		return invalid("change", "Nothing to update.")
	}

	fields := map[string]any{}
	if change.Role != nil {
		if !permissions.HasPermission(actor, permissions.ManageRoles) || uid == actor.ID {
			return ErrPermissionDenied
		}
		if !change.Role.IsValid() {
			return invalid("role", "Unknown role.")
		}
		fields["role"] = *change.Role
	}
	if change.Muted != nil || change.Banned != nil {
		if !permissions.HasPermission(actor, permissions.ModerateUsers) {
			return ErrPermissionDenied
		}
		if change.Muted != nil {
			fields["muted"] = *change.Muted
		}
		if change.Banned != nil {
			fields["banned"] = *change.Banned
		}
	}

	if _, err := s.GetByID(ctx, uid); err != nil {
		return err
	}
	if err := s.docs.Update(ctx, catalog.UserPath(uid), fields); err != nil {
		return fmt.Errorf("update user %s: %w", uid, err)
	}
	s.logger.Info("user moderated",
		zap.String("actor_id", actor.ID),
		zap.String("user_id", uid),
		zap.Any("fields", fields),
	)
	return nil
}

// UpdateProfile edits the actor's own profile.
func (s *UserService) UpdateProfile(ctx context.Context, actor *types.User, change ProfileChange) error {
	return record("user_profile", s.updateProfile(ctx, actor, change))
}

func (s *UserService) updateProfile(ctx context.Context, actor *types.User, change ProfileChange) error {
	if actor == nil {
		return ErrNotAuthenticated
	}
	if err := validateStruct(s.validate, change); err != nil {
		return err
	}

	fields := map[string]any{}
	if change.Bio != nil {
		fields["bio"] = *change.Bio
	}
	if change.ProfileBorder != nil {
		if !types.IsBorder(*change.ProfileBorder) {
			return invalid("profileBorder", "Unknown border.")
		}
		fields["profileBorder"] = *change.ProfileBorder
	}
	if change.CustomColor != nil {
		fields["customColor"] = *change.CustomColor
	}
	if change.ProfilePic != nil {
		fields["profilePic"] = upload.ToHTTPS(*change.ProfilePic)
	}
	if change.Socials != nil {
		fields["socials"] = *change.Socials
	}
	if len(fields) == 0 {
		return invalid("change", "Nothing to update.")
	}
	if err := s.docs.Update(ctx, catalog.UserPath(actor.ID), fields); err != nil {
		return fmt.Errorf("update profile %s: %w", actor.ID, err)
	}
	return nil
}

// UploadAvatar stores a new avatar for the actor and returns its URL. When
// the same user starts another upload before this one settles, only the
// later one is written and this call returns upload.ErrSuperseded.
func (s *UserService) UploadAvatar(ctx context.Context, actor *types.User, local *upload.Local) (string, error) {
	url, err := s.uploadAvatar(ctx, actor, local)
	return url, record("user_avatar", err)
}

func (s *UserService) uploadAvatar(ctx context.Context, actor *types.User, local *upload.Local) (string, error) {
	if actor == nil {
		local.Release()
		return "", ErrNotAuthenticated
	}
	if s.host == nil {
		local.Release()
		return "", ErrNoImageHost
	}
	if local.Size > upload.AvatarLimit {
		local.Release()
		return "", upload.ErrTooLarge
	}

	entry := s.acquireSlot(actor.ID)
	defer s.releaseSlot(actor.ID, entry)

	url, err := entry.slot.Upload(ctx, s.host, local)
	if err != nil {
		return "", err
	}
	// Patched ahead of the write so readers see the new avatar at once.
	s.users.PatchProfilePic(actor.ID, url)
	if err := s.docs.Write(ctx, docstore.Join(catalog.UserPath(actor.ID), "profilePic"), url); err != nil {
		s.users.Forget(actor.ID)
		return "", fmt.Errorf("write avatar: %w", err)
	}
	return url, nil
}

func (s *UserService) acquireSlot(uid string) *avatarSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.slots[uid]
	if !ok {
		entry = &avatarSlot{}
		s.slots[uid] = entry
	}
	entry.users++
	return entry
}

func (s *UserService) releaseSlot(uid string, entry *avatarSlot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.users--
	if entry.users == 0 {
		delete(s.slots, uid)
		entry.slot.Close()
	}
}

var _ UserDirectory = (*catalog.UserCache)(nil)
