package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_RoundTrip(t *testing.T) {
	codec := JSONCodec{}
	d := Datagram{
		Inputs: &FrameInputBatch{
			SenderID: 3,
			Inputs: []FrameInputRecord{
				{Frame: 10, Command: []byte("move-left")},
				{Frame: 11, Command: []byte("jump")},
			},
		},
		Acks: &AckBatch{
			SenderID: 3,
			Acks:     []FrameAckRecord{{Cumulative: 9, Selective: []int64{11}}},
		},
	}

	b, err := codec.Encode(d)
	require.NoError(t, err)

	got, err := codec.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestJSONCodec_DecodeMalformedReturnsError(t *testing.T) {
	codec := JSONCodec{}
	_, err := codec.Decode([]byte("{not json"))
	assert.Error(t, err)
}
