package discovery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/steveyegge/dealfinder/internal/types"
)

// StaticSource replays a fixed list of candidates every cycle.
type StaticSource struct {
	name       string
	candidates []types.Candidate
}

// NewStaticSource creates a source over candidates.
func NewStaticSource(name string, candidates []types.Candidate) *StaticSource {
	return &StaticSource{name: name, candidates: append([]types.Candidate(nil), candidates...)}
}

// LoadSeedFile reads a seed list. Each non-blank line that is not a #
// comment is a URL, or a source name and a URL separated by a tab.
func LoadSeedFile(path string) (*StaticSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed file: %w", err)
	}
	defer f.Close()

	candidates, err := parseSeeds(f)
	if err != nil {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return NewStaticSource("seeds", candidates), nil
}

func parseSeeds(r io.Reader) ([]types.Candidate, error) {
	var out []types.Candidate
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c := types.Candidate{Source: "seed"}
		if source, u, ok := strings.Cut(line, "\t"); ok {
			c.Source = strings.TrimSpace(source)
			c.URL = strings.TrimSpace(u)
		} else {
			c.URL = line
		}
		out = append(out, c)
	}
	return out, scanner.Err()
}

// Name implements Source.
func (s *StaticSource) Name() string { return s.name }

// Discover implements Source.
func (s *StaticSource) Discover(ctx context.Context) ([]types.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]types.Candidate(nil), s.candidates...), nil
}
