package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerAddRemove(t *testing.T) {
	m := NewManager()

	c1 := NewClient("conn-1", "alice", nil, 4)
	c2 := NewClient("conn-2", "alice", nil, 4)
	c3 := NewClient("conn-3", "bob", nil, 4)
	m.Add(c1)
	m.Add(c2)
	m.Add(c3)

	require.Equal(t, 3, m.Len())
	require.Len(t, m.ClientsOf("alice"), 2)
	require.Len(t, m.ClientsOf("bob"), 1)
	require.Empty(t, m.ClientsOf("nobody"))

	// 多端同户：摘掉一个还剩一个
	require.Equal(t, 1, m.Remove(c1))
	require.Equal(t, 0, m.Remove(c2))
	require.Empty(t, m.ClientsOf("alice"))

	require.Equal(t, 0, m.Remove(c3))
	require.Zero(t, m.Len())

	// 重复移除安全
	require.Equal(t, 0, m.Remove(c3))
}
