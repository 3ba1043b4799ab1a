package format

import (
	"sort"
	"strings"
)

// RobotsDirective distinguishes allow from disallow rules.
type RobotsDirective int

const (
	DirectiveAllow RobotsDirective = iota
	DirectiveDisallow
)

// RobotsRule is one Allow or Disallow line. Path is a prefix pattern;
// a trailing $ anchors it to an exact match.
type RobotsRule struct {
	Type RobotsDirective
	Path string
}

// UserAgentBlock groups the rules that apply to a set of user agents.
// Rules keep their file order; rule precedence is by pattern length,
// not position.
type UserAgentBlock struct {
	UserAgents []string
	Rules      []RobotsRule
	CrawlDelay string
	Host       string
}

// RobotsTxt is a parsed robots.txt document.
type RobotsTxt struct {
	Blocks   []UserAgentBlock
	Sitemaps []string
}

// ParseRobotsTxt reads a robots.txt document. Directives are matched
// case-insensitively, # comments and unknown directives are skipped,
// and every User-agent line starts a new block. Sitemap entries are
// collected document-wide, deduplicated and sorted.
func ParseRobotsTxt(content string) *RobotsTxt {
	robots := &RobotsTxt{}
	sitemaps := make(map[string]struct{})

	var current UserAgentBlock
	inBlock := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		directive, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		directive = strings.ToLower(strings.TrimSpace(directive))
		value = strings.TrimSpace(value)

		switch directive {
		case "user-agent":
			if inBlock {
				robots.Blocks = append(robots.Blocks, current)
				current = UserAgentBlock{}
			}
			current.UserAgents = append(current.UserAgents, value)
			inBlock = true
		case "allow":
			if inBlock {
				current.Rules = append(current.Rules, RobotsRule{Type: DirectiveAllow, Path: value})
			}
		case "disallow":
			if inBlock {
				current.Rules = append(current.Rules, RobotsRule{Type: DirectiveDisallow, Path: value})
			}
		case "crawl-delay":
			if inBlock {
				current.CrawlDelay = value
			}
		case "host":
			if inBlock {
				current.Host = value
			}
		case "sitemap":
			sitemaps[value] = struct{}{}
		}
	}
	if inBlock {
		robots.Blocks = append(robots.Blocks, current)
	}

	robots.Sitemaps = make([]string, 0, len(sitemaps))
	for s := range sitemaps {
		robots.Sitemaps = append(robots.Sitemaps, s)
	}
	sort.Strings(robots.Sitemaps)
	return robots
}

// Build renders the document: each block's User-agent lines, its rules
// in order, then Crawl-delay and Host when present, a blank line after
// every block, and finally the sitemap entries sorted.
func (r *RobotsTxt) Build() string {
	var b strings.Builder

	for _, block := range r.Blocks {
		for _, ua := range block.UserAgents {
			b.WriteString("User-agent: ")
			b.WriteString(ua)
			b.WriteByte('\n')
		}
		for _, rule := range block.Rules {
			if rule.Type == DirectiveAllow {
				b.WriteString("Allow: ")
			} else {
				b.WriteString("Disallow: ")
			}
			b.WriteString(rule.Path)
			b.WriteByte('\n')
		}
		if block.CrawlDelay != "" {
			b.WriteString("Crawl-delay: ")
			b.WriteString(block.CrawlDelay)
			b.WriteByte('\n')
		}
		if block.Host != "" {
			b.WriteString("Host: ")
			b.WriteString(block.Host)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	sitemaps := append([]string(nil), r.Sitemaps...)
	sort.Strings(sitemaps)
	for _, s := range sitemaps {
		b.WriteString("Sitemap: ")
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return b.String()
}

// IsPathAllowed decides whether userAgent may fetch path. The block
// with an exact agent match wins over the first * block; with no block
// at all everything is allowed. Within the chosen block the longest
// matching pattern decides; empty patterns place no restriction.
func (r *RobotsTxt) IsPathAllowed(userAgent, path string) bool {
	var best *UserAgentBlock
	bestScore := -1

	for i := range r.Blocks {
		block := &r.Blocks[i]
		for _, ua := range block.UserAgents {
			if ua == userAgent {
				best = block
				bestScore = 1
				break
			}
			if ua == "*" && bestScore < 0 {
				best = block
				bestScore = 0
			}
		}
		if bestScore == 1 {
			break
		}
	}
	if best == nil {
		return true
	}

	rules := append([]RobotsRule(nil), best.Rules...)
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].Path) > len(rules[j].Path)
	})

	for _, rule := range rules {
		if rule.Path == "" {
			continue
		}
		pattern, anchored := strings.CutSuffix(rule.Path, "$")
		matched := path == pattern || (!anchored && strings.HasPrefix(path, pattern))
		if matched {
			return rule.Type == DirectiveAllow
		}
	}
	return true
}
