package queryrpc

// RequestHeader precedes the CBOR-encoded arguments of every call.
type RequestHeader struct {
	Seq    uint64 `cbor:"1,keyasint,omitempty"`
	Method string `cbor:"2,keyasint,omitempty"`
}

// ResponseHeader precedes the reply. A non-empty Err means the call failed
// and no reply body follows.
type ResponseHeader struct {
	Seq uint64 `cbor:"1,keyasint,omitempty"`
	Err string `cbor:"2,keyasint,omitempty"`
}
