package discord

import (
	"context"
	"fmt"

	"github.com/goodtune/voiceboard/internal/rank"
)

// Directory returns a rank.Directory backed by the guild role API.
func (g *Gateway) Directory() rank.Directory {
	return &directory{gw: g}
}

type directory struct {
	gw *Gateway
}

func (d *directory) MemberRoles(ctx context.Context, spaceID, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	member, err := d.gw.session.GuildMember(spaceID, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch member %s: %w", userID, err)
	}
	return member.Roles, nil
}

func (d *directory) AddRole(ctx context.Context, spaceID, userID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.gw.session.GuildMemberRoleAdd(spaceID, userID, roleID); err != nil {
		return fmt.Errorf("add role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

func (d *directory) RemoveRole(ctx context.Context, spaceID, userID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.gw.session.GuildMemberRoleRemove(spaceID, userID, roleID); err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

// CanAssign reports whether the bot's highest role sits above the target role.
// Discord rejects role mutations at or above the bot's own position, so the
// synchronizer checks here first to skip instead of erroring.
func (d *directory) CanAssign(ctx context.Context, spaceID, roleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	roles, err := d.gw.session.GuildRoles(spaceID)
	if err != nil {
		return false, fmt.Errorf("fetch guild roles: %w", err)
	}
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}

	target, ok := positions[roleID]
	if !ok {
		// Deleted role: nothing to assign.
		return false, nil
	}

	self, err := d.gw.session.GuildMember(spaceID, d.gw.session.State.User.ID)
	if err != nil {
		return false, fmt.Errorf("fetch own member: %w", err)
	}
	highest := 0
	for _, id := range self.Roles {
		if p, ok := positions[id]; ok && p > highest {
			highest = p
		}
	}
	return highest > target, nil
}
