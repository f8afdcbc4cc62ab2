package p2p

import (
	"bytes"
	"encoding/gob"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
	"github.com/uhyunpark/arcdark/pkg/cluster"
)

func init() {
	gob.Register(JobWire{})
	gob.Register(ShareWire{})
}

type JobWire struct {
	Request darkpool.ComputationRequest
}

type ShareWire struct {
	Share cluster.Share
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
