package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrGridID is returned for names that are not grid IDs.
var ErrGridID = errors.New("invalid grid id")

// GridRef is a parsed grid ID.
type GridRef struct {
	Chunk    int
	HasChunk bool
	X, Y     int
}

// GridID names a splitter tile whose top-left pixel is (x, y).
func GridID(x, y int) string {
	return fmt.Sprintf("grid_%05d_%05d", x, y)
}

// ChunkGridID names a tile kept by the chunked analyzer.
func ChunkGridID(chunk, x, y int) string {
	return fmt.Sprintf("chunk_%04d_%s", chunk, GridID(x, y))
}

// ParseGridID parses either grid ID form.
func ParseGridID(id string) (GridRef, error) {
	parts := strings.Split(id, "_")
	var ref GridRef
	switch {
	case len(parts) == 3 && parts[0] == "grid":
	case len(parts) == 5 && parts[0] == "chunk" && parts[2] == "grid":
		c, err := parseCoord(parts[1])
		if err != nil {
			return GridRef{}, fmt.Errorf("%w %q: %v", ErrGridID, id, err)
		}
		ref.Chunk, ref.HasChunk = c, true
		parts = parts[2:]
	default:
		return GridRef{}, fmt.Errorf("%w %q", ErrGridID, id)
	}

	x, err := parseCoord(parts[1])
	if err != nil {
		return GridRef{}, fmt.Errorf("%w %q: %v", ErrGridID, id, err)
	}
	y, err := parseCoord(parts[2])
	if err != nil {
		return GridRef{}, fmt.Errorf("%w %q: %v", ErrGridID, id, err)
	}
	ref.X, ref.Y = x, y
	return ref, nil
}

// String formats the reference back into its grid ID.
func (r GridRef) String() string {
	if r.HasChunk {
		return ChunkGridID(r.Chunk, r.X, r.Y)
	}
	return GridID(r.X, r.Y)
}

func parseCoord(s string) (int, error) {
	if s == "" || strings.ContainsAny(s, "+-") {
		return 0, fmt.Errorf("bad coordinate %q", s)
	}
	return strconv.Atoi(s)
}
