package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andre-silva/leech/internal/bencode"
)

func TestToJSONConvertsAllKinds(t *testing.T) {
	v := bencode.NewDict(map[string]*bencode.Value{
		"cow":  bencode.NewString([]byte("moo")),
		"spam": bencode.NewList(bencode.NewString([]byte("a")), bencode.NewInt(1)),
	})
	got := toJSON(v).(map[string]interface{})
	assert.Equal(t, "moo", got["cow"])
	list := got["spam"].([]interface{})
	assert.Equal(t, "a", list[0])
	assert.EqualValues(t, 1, list[1])
}

func TestNewPeerIDHasExpectedPrefix(t *testing.T) {
	id := newPeerID()
	assert.Equal(t, "-LE0001-", string(id[:8]))
}
