package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Codec encodes and decodes the Datagram envelope. Swappable so a host
// application can replace the default JSON-over-UDP framing with a
// denser wire format without touching the synchronization core.
type Codec interface {
	Encode(d Datagram) ([]byte, error)
	Decode(b []byte) (Datagram, error)
}

// JSONCodec is the default Codec: encoding/json over a batch envelope,
// one datagram per transmit tick rather than one message per frame.
type JSONCodec struct{}

// Encode implements Codec.
func (JSONCodec) Encode(d Datagram) ([]byte, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "wire: encode datagram")
	}
	return b, nil
}

// Decode implements Codec.
func (JSONCodec) Decode(b []byte) (Datagram, error) {
	var d Datagram
	if err := json.Unmarshal(b, &d); err != nil {
		return Datagram{}, errors.Wrap(err, "wire: decode datagram")
	}
	return d, nil
}
