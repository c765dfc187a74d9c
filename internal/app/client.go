package app

import (
	"sync"

	"github.com/dshills/recode/internal/dfstate"
)

// Locator answers where the player is on node. It runs on the mutation
// thread and should be fast.
type Locator func(node dfstate.Node) (dfstate.LocateState, error)

// SimWorld is a fixed world used when no game client is attached.
type SimWorld struct {
	Player  dfstate.BlockPos
	GroundY int
	Bottom  int
	Book    string
}

// DefaultWorld returns a world with flat ground below the player.
func DefaultWorld() SimWorld {
	return SimWorld{
		Player:  dfstate.BlockPos{X: 10, Y: 60, Z: 10},
		GroundY: 49,
		Bottom:  0,
		Book:    "Reference Book",
	}
}

func (w SimWorld) PlayerPosition() dfstate.BlockPos { return w.Player }
func (w SimWorld) IsDirt(p dfstate.BlockPos) bool   { return p.Y == w.GroundY }
func (w SimWorld) MinY() int                        { return w.Bottom }
func (w SimWorld) ReferenceBook() string            { return w.Book }

// ChatLog keeps the most recent received chat lines.
type ChatLog struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewChatLog creates a log holding up to max lines.
func NewChatLog(max int) *ChatLog {
	if max <= 0 {
		max = 100
	}
	return &ChatLog{max: max}
}

// Add appends line, dropping the oldest when full.
func (c *ChatLog) Add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) == c.max {
		copy(c.lines, c.lines[1:])
		c.lines = c.lines[:c.max-1]
	}
	c.lines = append(c.lines, line)
}

// Lines returns a copy of the logged lines, oldest first.
func (c *ChatLog) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}
