package udp

// Topic of the periodic presence broadcast on the multicast group.
const announcementTopic = "Radio.Announcement"

// Method served on the query port for peers whose announcements do not
// carry the identity inline.
const identityReadMethod = "Radio.IdentityRead"

// Announcement is the broadcast payload. Instance is a random token that
// lets a node recognize and drop its own announcements. QueryPort is the
// TCP port serving identity reads on the sender. Identity is present only
// when the sender embeds it in the broadcast.
type Announcement struct {
	Instance  string `cbor:"1,keyasint,omitempty"`
	QueryPort int    `cbor:"2,keyasint,omitempty"`
	Identity  []byte `cbor:"3,keyasint,omitempty"`
}

type IdentityReadRequest struct {
}

type IdentityReadResponse struct {
	Identity []byte `cbor:"1,keyasint,omitempty"`
}
