package testutil

import (
	"testing"

	"github.com/bwmarrin/snowflake"
)

// NewTestNode returns an ID generator for tests.
func NewTestNode(t *testing.T) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}
	return node
}
