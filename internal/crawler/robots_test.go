package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRobotsAllows(t *testing.T) {
	tests := []struct {
		name   string
		robots string
		want   bool
	}{
		{"empty", "", true},
		{"disallow all", "User-agent: *\nDisallow: /\n", false},
		{"disallow list", "User-agent: *\nDisallow: /std-proposals\n", false},
		{"other path", "User-agent: *\nDisallow: /private/\n", true},
		{"empty disallow", "User-agent: *\nDisallow:\n", true},
		{"other agent", "User-agent: BadBot\nDisallow: /\n", true},
		{"named agent", "User-agent: ThreadQA-Crawler\nDisallow: /std-proposals/\n", false},
		{"allow overrides", "User-agent: *\nDisallow: /\nAllow: /std-proposals/\n", true},
		{"comment", "User-agent: * # everyone\nDisallow: /std-proposals # archive\n", false},
		{"grouped agents", "User-agent: BadBot\nUser-agent: *\nDisallow: /std\n", false},
		{"later group", "User-agent: *\nDisallow: /tmp\n\nUser-agent: BadBot\nDisallow: /\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, robotsAllows(tt.robots, "threadqa-crawler/1.0", "/std-proposals/"))
		})
	}
}
