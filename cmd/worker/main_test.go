package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-mfg/internal/app"
	_ "github.com/odyssey-erp/odyssey-mfg/internal/testing/guard"
)

func TestMainSkipsInTestMode(t *testing.T) {
	assert.True(t, app.InTestMode())
	assert.NotPanics(t, main)
}
