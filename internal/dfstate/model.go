// Package dfstate models where a player is on a DiamondFire-style server
// and derives that state from locate results and chat messages.
package dfstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/recode/internal/future"
)

// ErrNoGround is returned when the dev area's ground cannot be found below
// the player.
var ErrNoGround = errors.New("no ground found below player")

// Node is a server instance identifier such as "node3" or "beta".
type Node string

// DisplayName returns the human-readable node name.
func (n Node) DisplayName() string {
	id := string(n)
	switch {
	case strings.HasPrefix(id, "node"):
		return "Node " + strings.TrimPrefix(id, "node")
	case id == "beta":
		return "Node Beta"
	default:
		return titleFirst(id)
	}
}

// String implements fmt.Stringer.
func (n Node) String() string {
	return n.DisplayName()
}

// NodeByName parses a display name back into a Node.
func NodeByName(name string) Node {
	s := strings.TrimPrefix(name, "Node ")
	if _, err := strconv.Atoi(s); err == nil {
		return Node("node" + s)
	}
	return Node(lowerFirst(s))
}

// Plot identifies a plot.
type Plot struct {
	Name  string
	Owner string
	ID    uint32
}

// ModeID is the kind of activity a player is doing on a plot.
type ModeID int

const (
	ModePlay ModeID = iota
	ModeBuild
	ModeDev
)

// ModeIDs lists every ModeID in match order.
var ModeIDs = []ModeID{ModePlay, ModeBuild, ModeDev}

// Descriptor returns the lowercase verb describing the mode.
func (m ModeID) Descriptor() string {
	switch m {
	case ModePlay:
		return "playing"
	case ModeBuild:
		return "building"
	case ModeDev:
		return "coding"
	default:
		return "unknown"
	}
}

// CapitalizedDescriptor returns Descriptor with an uppercase first letter.
func (m ModeID) CapitalizedDescriptor() string {
	return titleFirst(m.Descriptor())
}

// String implements fmt.Stringer.
func (m ModeID) String() string {
	return m.Descriptor()
}

// BlockPos is an integer block position.
type BlockPos struct {
	X, Y, Z int
}

// Offset returns p moved by dx, dy, dz.
func (p BlockPos) Offset(dx, dy, dz int) BlockPos {
	return BlockPos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// DevArea describes the code area of a plot in dev mode.
type DevArea struct {
	BuildCorner   BlockPos
	ReferenceBook string
}

// PlotMode is the mode a player is in, with dev details when coding.
type PlotMode struct {
	ID  ModeID
	Dev *DevArea
}

// World is the part of the client world needed to locate the dev area.
type World interface {
	PlayerPosition() BlockPos
	IsDirt(pos BlockPos) bool
	// MinY is the lowest block height to search.
	MinY() int
	// ReferenceBook returns the item in the reference book inventory slot.
	ReferenceBook() string
}

// SupportSession is the player's code support status.
type SupportSession int

const (
	SessionNone SupportSession = iota
	SessionRequested
	SessionHelping
)

// String implements fmt.Stringer.
func (s SupportSession) String() string {
	switch s {
	case SessionNone:
		return "none"
	case SessionRequested:
		return "requested"
	case SessionHelping:
		return "helping"
	default:
		return "unknown"
	}
}

// PermissionGroup is the set of server permissions a player holds.
type PermissionGroup struct {
	Rank       string
	Support    bool
	Moderation bool
	Builder    bool
}

// LocateState is the raw result of a locate query.
// Plot is nil when the player is at spawn.
type LocateState struct {
	Node   Node
	Plot   *Plot
	Mode   ModeID
	Status string
}

// AtSpawn reports whether the locate result is a spawn.
func (l LocateState) AtSpawn() bool {
	return l.Plot == nil
}

// State is the derived player state. Plot and Mode are nil at spawn.
type State struct {
	Node    Node
	Plot    *Plot
	Mode    *PlotMode
	Status  string
	Session SupportSession

	permissions *future.Future[PermissionGroup]
}

// NewState creates a spawn state whose permissions resolve through perms.
func NewState(node Node, perms *future.Future[PermissionGroup]) *State {
	if perms == nil {
		perms = future.New[PermissionGroup]()
	}
	return &State{Node: node, permissions: perms}
}

// Permissions waits for the player's permissions to be detected.
func (s *State) Permissions(ctx context.Context) (PermissionGroup, error) {
	return s.permissions.Await(ctx)
}

// PermissionsFuture returns the underlying permissions future.
func (s *State) PermissionsFuture() *future.Future[PermissionGroup] {
	return s.permissions
}

// OnPlot reports whether the state is on a plot.
func (s *State) OnPlot() bool {
	return s != nil && s.Plot != nil
}

// IsOnPlot reports whether s is on plot p. A nil state is on no plot.
func (s *State) IsOnPlot(p Plot) bool {
	return s.OnPlot() && *s.Plot == p
}

// IsInMode reports whether s is on a plot in mode id.
func (s *State) IsInMode(id ModeID) bool {
	return s.OnPlot() && s.Mode != nil && s.Mode.ID == id
}

// WithState derives a new state from a locate result, keeping permissions
// and session. Dev mode consults world to find the code area.
func (s *State) WithState(l LocateState, world World) (*State, error) {
	next := &State{
		Node:        l.Node,
		Session:     s.Session,
		permissions: s.permissions,
	}
	if l.AtSpawn() {
		return next, nil
	}

	plot := *l.Plot
	next.Plot = &plot
	next.Status = l.Status

	mode := &PlotMode{ID: l.Mode}
	if l.Mode == ModeDev {
		area, err := locateDevArea(world)
		if err != nil {
			return nil, fmt.Errorf("derive dev mode on plot %d: %w", plot.ID, err)
		}
		mode.Dev = area
	}
	next.Mode = mode
	return next, nil
}

// WithSession returns a copy of s with session replaced.
func (s *State) WithSession(session SupportSession) *State {
	next := *s
	next.Session = session
	return &next
}

// Equal reports whether two states describe the same location and session.
// Permissions are not compared.
func (s *State) Equal(o *State) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Node != o.Node || s.Status != o.Status || s.Session != o.Session {
		return false
	}
	if (s.Plot == nil) != (o.Plot == nil) || (s.Plot != nil && *s.Plot != *o.Plot) {
		return false
	}
	if (s.Mode == nil) != (o.Mode == nil) {
		return false
	}
	return s.Mode == nil || s.Mode.ID == o.Mode.ID
}

// locateDevArea searches down from the player for dirt; the build corner
// sits ten blocks diagonally from it, one block up. Grass is skipped since
// some plots use custom ground.
func locateDevArea(world World) (*DevArea, error) {
	if world == nil {
		return nil, ErrNoGround
	}

	pos := world.PlayerPosition()
	for {
		pos = pos.Offset(0, -1, 0)
		if pos.Y < world.MinY() {
			return nil, ErrNoGround
		}
		if world.IsDirt(pos) {
			break
		}
	}
	return &DevArea{
		BuildCorner:   pos.Offset(-10, 1, -10),
		ReferenceBook: world.ReferenceBook(),
	}, nil
}

func titleFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToTitle(r)) + s[size:]
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
