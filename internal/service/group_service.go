package service

import (
	"context"

	"github.com/weiawesome/wes-io-chat/internal/audit"
	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/internal/events"
	"github.com/weiawesome/wes-io-chat/internal/membership"
	"github.com/weiawesome/wes-io-chat/internal/router"
)

// Membership actions published on the group status channel.
const (
	membershipCreated = "created"
	membershipAdded   = "added"
	membershipRemoved = "removed"
	membershipLeft    = "left"
	membershipDeleted = "deleted"
)

type groupService struct {
	authority *membership.Authority
	router    *router.Router
	events    *events.Publisher
}

func NewGroupService(authority *membership.Authority, r *router.Router, pub *events.Publisher) GroupService {
	return &groupService{
		authority: authority,
		router:    r,
		events:    pub,
	}
}

func (s *groupService) CreateGroup(ctx context.Context, adminID string, req membership.CreateGroupRequest) (*domain.Group, error) {
	g, err := s.authority.CreateGroup(ctx, adminID, req)
	if err != nil {
		return nil, err
	}
	s.events.Membership(ctx, events.MembershipChange{
		GroupID: g.ID,
		UserID:  adminID,
		Action:  membershipCreated,
		ActorID: adminID,
		Admin:   g.Admin,
	})
	audit.LogWithDetail(ctx, audit.ActionGroupCreate, adminID, g.ID, g.Name, "group created")
	return g, nil
}

func (s *groupService) ListUserGroups(ctx context.Context, userID string) ([]*domain.Group, error) {
	return s.authority.ListUserGroups(ctx, userID)
}

// AddMember adds userID and tells every member, the new one included.
func (s *groupService) AddMember(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error) {
	g, err := s.authority.AddMember(ctx, groupID, actorID, userID)
	if err != nil {
		return nil, err
	}

	s.router.EmitToUsers(g.Members, domain.EventNewGroupMember, domain.NewGroupMember{
		GroupID: g.ID,
		Member:  userID,
		AddedBy: actorID,
	}, "")
	s.events.Membership(ctx, events.MembershipChange{
		GroupID: g.ID,
		UserID:  userID,
		Action:  membershipAdded,
		ActorID: actorID,
		Admin:   g.Admin,
	})
	audit.Log(ctx, audit.ActionGroupAddMember, actorID, userID, "group member added")
	return g, nil
}

func (s *groupService) RemoveMember(ctx context.Context, groupID, actorID, userID string) (*domain.Group, error) {
	g, err := s.authority.RemoveMember(ctx, groupID, actorID, userID)
	if err != nil {
		return nil, err
	}
	s.events.Membership(ctx, events.MembershipChange{
		GroupID: g.ID,
		UserID:  userID,
		Action:  membershipRemoved,
		ActorID: actorID,
		Admin:   g.Admin,
	})
	audit.Log(ctx, audit.ActionGroupRemove, actorID, userID, "group member removed")
	return g, nil
}

func (s *groupService) LeaveGroup(ctx context.Context, groupID, userID string) (*membership.LeaveResult, error) {
	res, err := s.authority.Leave(ctx, groupID, userID)
	if err != nil {
		return nil, err
	}

	change := events.MembershipChange{
		GroupID: groupID,
		UserID:  userID,
		Action:  membershipLeft,
		ActorID: userID,
	}
	if res.Deleted {
		change.Action = membershipDeleted
	} else {
		change.Admin = res.Group.Admin
	}
	s.events.Membership(ctx, change)
	audit.LogWithDetail(ctx, audit.ActionGroupLeave, userID, groupID, change.Action, "group left")
	return res, nil
}
