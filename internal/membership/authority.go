package membership

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/keylock"
	"github.com/weiawesome/wes-io-chat/pkg/database"
	pkglog "github.com/weiawesome/wes-io-chat/pkg/log"
)

// Store is the persistence the authority needs.
type Store interface {
	CreateGroup(ctx context.Context, g *domain.Group) error
	FindGroup(ctx context.Context, id string) (*domain.Group, error)
	UpdateGroupMembers(ctx context.Context, id string, version int64, members []string, admin string) error
	DeleteGroup(ctx context.Context, id string, version int64) error
	ListUserGroups(ctx context.Context, userID string) ([]*domain.Group, error)
	GetUsers(ctx context.Context, ids []string) ([]*domain.User, error)
}

// Authority owns group membership. Mutations of one group are serialized in
// process and versioned in the store, so writers on other instances cannot
// overwrite each other. Reads go straight to the store, so a fan-out racing a
// mutation may see either member set.
type Authority struct {
	store Store
	locks *keylock.Locker
	reads singleflight.Group
}

// maxWriteAttempts bounds how often a mutation is re-run after losing a
// version race.
const maxWriteAttempts = 3

func NewAuthority(store Store) *Authority {
	return &Authority{
		store: store,
		locks: keylock.New(),
	}
}

type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
	IsPrivate   bool     `json:"isPrivate"`
}

// LeaveResult describes what happened to the group after a member left.
// Group is nil when the group was deleted; NewAdmin is set only when the
// admin role moved.
type LeaveResult struct {
	Group    *domain.Group `json:"group,omitempty"`
	Deleted  bool          `json:"deleted"`
	NewAdmin string        `json:"newAdmin,omitempty"`
}

// ResolveMembers returns the current members of groupID. Concurrent calls
// for the same group share one store read, which outlives any single
// caller's cancellation.
func (a *Authority) ResolveMembers(ctx context.Context, groupID string) ([]string, error) {
	shared := context.WithoutCancel(ctx)
	ch := a.reads.DoChan(groupID, func() (interface{}, error) {
		g, err := a.store.FindGroup(shared, groupID)
		if err != nil {
			return nil, err
		}
		return g.Members, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		members := res.Val.([]string)
		return append([]string(nil), members...), nil
	}
}

// Group returns a group by id.
func (a *Authority) Group(ctx context.Context, groupID string) (*domain.Group, error) {
	return a.store.FindGroup(ctx, groupID)
}

// RequireMember returns the group if userID belongs to it.
func (a *Authority) RequireMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	g, err := a.store.FindGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsMember(userID) {
		return nil, domain.ErrNotGroupMember
	}
	return g, nil
}

// CreateGroup creates a group administered by adminID. The admin must be
// listed in the members and every member must exist.
func (a *Authority) CreateGroup(ctx context.Context, adminID string, req CreateGroupRequest) (*domain.Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrEmptyGroupName
	}

	members := database.StringArray(req.Members).Unique()
	if !members.Contains(adminID) {
		return nil, domain.ErrAdminNotMember
	}

	users, err := a.store.GetUsers(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(users) != len(members) {
		return nil, domain.ErrUserNotFound
	}

	now := time.Now().UTC()
	g := &domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Admin:       adminID,
		Members:     members,
		IsPrivate:   req.IsPrivate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}

	l := pkglog.Ctx(ctx)
	l.Info().Str(pkglog.FieldGroupID, g.ID).Int("members", len(members)).Msg("group created")
	return g, nil
}

// ListUserGroups returns every group userID belongs to.
func (a *Authority) ListUserGroups(ctx context.Context, userID string) ([]*domain.Group, error) {
	return a.store.ListUserGroups(ctx, userID)
}

// AddMember adds userID to the group. Only the admin may add.
func (a *Authority) AddMember(ctx context.Context, groupID, actorID, userID string) (g *domain.Group, err error) {
	err = a.write(groupID, func() error {
		g, err = a.addMember(ctx, groupID, actorID, userID)
		return err
	})
	return g, err
}

func (a *Authority) addMember(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error) {
	g, err := a.store.FindGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(actorID) {
		return nil, domain.ErrNotGroupAdmin
	}
	if g.IsMember(userID) {
		return nil, domain.ErrAlreadyMember
	}

	users, err := a.store.GetUsers(ctx, []string{userID})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, domain.ErrUserNotFound
	}

	members := append(append([]string(nil), g.Members...), userID)
	if err := a.store.UpdateGroupMembers(ctx, groupID, g.Version, members, g.Admin); err != nil {
		return nil, err
	}
	g.Members = members
	g.Version++
	return g, nil
}

// RemoveMember removes userID from the group. Only the admin may remove,
// and the admin cannot remove themselves this way.
func (a *Authority) RemoveMember(ctx context.Context, groupID, actorID, userID string) (g *domain.Group, err error) {
	err = a.write(groupID, func() error {
		g, err = a.removeMember(ctx, groupID, actorID, userID)
		return err
	})
	return g, err
}

func (a *Authority) removeMember(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error) {
	g, err := a.store.FindGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsAdmin(actorID) {
		return nil, domain.ErrNotGroupAdmin
	}
	if !g.IsMember(userID) {
		return nil, domain.ErrMemberNotFound
	}
	if userID == g.Admin {
		return nil, domain.ErrAdminSelfRemoval
	}

	members := []string(database.StringArray(g.Members).Without(userID))
	if err := a.store.UpdateGroupMembers(ctx, groupID, g.Version, members, g.Admin); err != nil {
		return nil, err
	}
	g.Members = members
	g.Version++
	return g, nil
}

// Leave removes userID from the group. An admin hands the role to the first
// remaining member; an admin who was the last member deletes the group.
func (a *Authority) Leave(ctx context.Context, groupID, userID string) (res *LeaveResult, err error) {
	err = a.write(groupID, func() error {
		res, err = a.leave(ctx, groupID, userID)
		return err
	})
	return res, err
}

func (a *Authority) leave(ctx context.Context, groupID, userID string) (*LeaveResult, error) {
	g, err := a.store.FindGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.IsMember(userID) {
		return nil, domain.ErrNotGroupMember
	}

	remaining := []string(database.StringArray(g.Members).Without(userID))
	if len(remaining) == 0 {
		if err := a.store.DeleteGroup(ctx, groupID, g.Version); err != nil {
			return nil, err
		}
		return &LeaveResult{Deleted: true}, nil
	}

	result := &LeaveResult{}
	admin := g.Admin
	if admin == userID {
		admin = remaining[0]
		result.NewAdmin = admin
	}
	if err := a.store.UpdateGroupMembers(ctx, groupID, g.Version, remaining, admin); err != nil {
		return nil, err
	}
	g.Members, g.Admin = remaining, admin
	g.Version++
	result.Group = g
	return result, nil
}

// write runs fn under the group's lock, re-running it while it loses the
// version race to another instance.
func (a *Authority) write(groupID string, fn func() error) error {
	unlock := a.locks.Lock(groupID)
	defer unlock()

	var err error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if err = fn(); !errors.Is(err, domain.ErrGroupConflict) {
			return err
		}
	}
	return err
}
