package music

import (
	"fmt"
	"strings"

	"github.com/disgoorg/snowflake/v2"
)

type OwnerKind string

const (
	OwnerGuild  OwnerKind = "guild"
	OwnerMember OwnerKind = "member"
)

// Owner scopes a playlist to either a guild or a single member.
type Owner struct {
	Kind OwnerKind
	ID   snowflake.ID
}

func GuildOwner(id snowflake.ID) Owner  { return Owner{Kind: OwnerGuild, ID: id} }
func MemberOwner(id snowflake.ID) Owner { return Owner{Kind: OwnerMember, ID: id} }

func (o Owner) String() string {
	return string(o.Kind) + ":" + o.ID.String()
}

func (o Owner) IsZero() bool {
	return o.Kind == "" && o.ID == 0
}

// ParseOwner reads the form produced by Owner.String. A bare id is read as a
// guild owner, which is how older settings stored the active playlist.
func ParseOwner(s string) (Owner, error) {
	kind, raw, found := strings.Cut(s, ":")
	if !found {
		id, err := snowflake.Parse(s)
		if err != nil {
			return Owner{}, fmt.Errorf("parse owner %q: %w", s, err)
		}
		return GuildOwner(id), nil
	}
	id, err := snowflake.Parse(raw)
	if err != nil {
		return Owner{}, fmt.Errorf("parse owner %q: %w", s, err)
	}
	switch OwnerKind(kind) {
	case OwnerGuild, OwnerMember:
		return Owner{Kind: OwnerKind(kind), ID: id}, nil
	}
	return Owner{}, fmt.Errorf("parse owner %q: unknown kind %q", s, kind)
}
