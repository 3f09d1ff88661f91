package queue

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("queue: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("queue: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serializes a job. Equal jobs encode to identical bytes.
func Encode(job *Job) ([]byte, error) {
	data, err := encMode.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", job, err)
	}
	return data, nil
}

// Decode parses a job produced by Encode.
func Decode(data []byte) (*Job, error) {
	var job Job
	if err := decMode.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if job.Type == "" {
		return nil, fmt.Errorf("decoding job: missing type")
	}
	return &job, nil
}
