package loglevel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringRendersKnownLevels(t *testing.T) {
	cases := map[Level]string{
		Debug:    "debug",
		Info:     "info",
		Warning:  "warning",
		Error:    "error",
		Critical: "critical",
	}
	for level, want := range cases {
		assert.Equal(t, want, level.String())
	}
}

func TestStringOnUnknownLevel(t *testing.T) {
	assert.Equal(t, "unknown", Level(99).String())
}

func TestLevelsAreOrdered(t *testing.T) {
	assert.True(t, Debug < Info)
	assert.True(t, Info < Warning)
	assert.True(t, Warning < Error)
	assert.True(t, Error < Critical)
}
