package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancelMessageReportsErrorText(t *testing.T) {
	msg := cancelMessage("demo", errors.New("the stack is currently locked by another update"))

	assert.Contains(t, msg, "demo")
	assert.Contains(t, msg, "the stack is currently locked by another update")
}

func TestCancelMessageSuccess(t *testing.T) {
	msg := cancelMessage("demo", nil)

	assert.Contains(t, msg, "demo")
	assert.Contains(t, msg, "canceled an in-progress operation")
}
