package txqueue

import (
	"errors"
	"strings"

	"txqueue/internal/domain"
)

// Intent is one transaction the caller wants submitted.
type Intent struct {
	Kind string           `json:"kind"`
	Tx   domain.TxRequest `json:"tx"`
}

// Signed is the output of signing: either a raw payload to broadcast, or
// the hash of a transaction the signer already broadcast itself.
type Signed struct {
	Payload string `json:"payload,omitempty"`
	Hash    string `json:"hash,omitempty"`
}

func SignedPayload(payload string) Signed {
	return Signed{Payload: payload}
}

// SignedHash records an externally broadcast transaction.
func SignedHash(hash string) Signed {
	return Signed{Hash: strings.ToLower(hash)}
}

// Broadcast reports whether signing already put the transaction on the wire.
func (s Signed) Broadcast() bool {
	return s.Payload == "" && s.Hash != ""
}

func (s Signed) validate() error {
	switch {
	case s.Payload == "" && s.Hash == "":
		return errors.New("signed artifact is empty")
	case s.Payload != "" && s.Hash != "":
		return errors.New("signed artifact carries both payload and hash")
	}
	return nil
}

// Parcel is one queued transaction and where it is in its lifecycle.
type Parcel struct {
	ID       string             `json:"id"`
	Kind     string             `json:"kind"`
	Intent   domain.TxRequest   `json:"intent"`
	Raw      *domain.TxRequest  `json:"raw,omitempty"`
	Signed   *Signed            `json:"signed,omitempty"`
	Hash     string             `json:"hash,omitempty"`
	Response *domain.TxResponse `json:"response,omitempty"`
	Receipt  *domain.Receipt    `json:"receipt,omitempty"`
	Status   Status             `json:"status"`
	Error    string             `json:"error,omitempty"`
	Attempts int                `json:"attempts"`

	err error
}

// Err returns the error that moved the parcel to FAILED.
func (p Parcel) Err() error {
	return p.err
}

// clone copies the pointer fields so snapshots never alias queue state.
func (p Parcel) clone() Parcel {
	if p.Raw != nil {
		raw := *p.Raw
		p.Raw = &raw
	}
	if p.Signed != nil {
		signed := *p.Signed
		p.Signed = &signed
	}
	if p.Response != nil {
		resp := *p.Response
		p.Response = &resp
	}
	if p.Receipt != nil {
		receipt := *p.Receipt
		p.Receipt = &receipt
	}
	return p
}

// clearArtifacts drops everything produced after the intent.
func (p *Parcel) clearArtifacts() {
	p.Raw = nil
	p.Signed = nil
	p.Hash = ""
	p.Response = nil
	p.Receipt = nil
	p.Error = ""
	p.err = nil
}
