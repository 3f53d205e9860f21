package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int }

func TestToken_LazySingleton(t *testing.T) {
	c := NewContainer()
	token := NewToken[*counter]("test.counter")

	builds := 0
	RegisterToken(c, token, func(ServiceRegistry) *counter {
		builds++
		return &counter{n: 42}
	})

	assert.Equal(t, 0, builds, "factory must not run at registration")

	first := GetToken(c, token)
	second := GetToken(c, token)

	require.Same(t, first, second)
	assert.Equal(t, 1, builds)
	assert.Equal(t, 42, first.n)
}

func TestContainer_FactoryResolvesDependencies(t *testing.T) {
	c := NewContainer()
	c.Register("base", 10)

	token := NewToken[int]("derived")
	RegisterToken(c, token, func(sr ServiceRegistry) int {
		return sr.Get("base").(int) * 2
	})

	assert.Equal(t, 20, GetToken(c, token))
	assert.True(t, c.Has("base"))
	assert.False(t, c.Has("missing"))
}

func TestContainer_UnknownServicePanics(t *testing.T) {
	c := NewContainer()
	assert.Panics(t, func() { c.Get("nope") })
}

func TestGetToken_WrongTypePanics(t *testing.T) {
	c := NewContainer()
	c.Register("svc", "a string")

	assert.Panics(t, func() { GetToken(c, NewToken[int]("svc")) })
}
