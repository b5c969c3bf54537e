package canid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeParseRoundTrip(t *testing.T) {
	cases := []struct {
		msgType  MsgType
		src, dst uint8
	}{
		{MsgISOTP, 0, 5},
		{MsgAddressRequest, 0, 0xFF},
		{MsgAddressResponse, 0, 0xFF},
		{MsgISOTP, 0x07, 0x00},
	}
	for _, c := range cases {
		for seed := 0; seed < 256; seed += 17 {
			id := WithSeed(Make(c.msgType, c.src, c.dst), uint8(seed))
			gotType, gotSrc, gotDst := Parse(id)
			assert.Equal(t, c.msgType, gotType)
			assert.Equal(t, c.src, gotSrc)
			assert.Equal(t, c.dst, gotDst)
		}
	}
}

func TestIsValidNode(t *testing.T) {
	assert.False(t, IsValidNode(Master))
	assert.False(t, IsValidNode(Broadcast))
	assert.True(t, IsValidNode(NodeMin))
	assert.True(t, IsValidNode(NodeMax))
	assert.True(t, IsValidNode(0x07))
}
