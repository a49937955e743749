package integrity

import "time"

// Payload is the wire form of a hashed attendance record.
type Payload struct {
	Name      string `json:"name"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

// NewPayload builds a payload with the default concat digest.
func NewPayload(name string, timestamp int64, secretKey string) (Payload, error) {
	digest, err := ComputeDigest(name, timestamp, secretKey)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Name: name, Timestamp: timestamp, Hash: digest}, nil
}

// Verify checks p against the default concat digest.
func (p Payload) Verify(secretKey string) bool {
	return VerifyDigest(p.Name, p.Timestamp, secretKey, p.Hash)
}

// New builds a payload for name at timestamp.
func (s Signer) New(name string, timestamp int64) (Payload, error) {
	digest, err := s.Digest(name, timestamp)
	if err != nil {
		return Payload{}, err
	}
	return Payload{Name: name, Timestamp: timestamp, Hash: digest}, nil
}

// Now builds a payload for name stamped with now, truncated to seconds.
func (s Signer) Now(name string, now time.Time) (Payload, error) {
	return s.New(name, now.Unix())
}

// Check reports whether p carries the digest s would produce.
func (s Signer) Check(p Payload) bool {
	return s.Verify(p.Name, p.Timestamp, p.Hash)
}

// Time returns the payload timestamp as a time.Time in UTC.
func (p Payload) Time() time.Time {
	return time.Unix(p.Timestamp, 0).UTC()
}
