package gateway

import "encoding/json"

// ProtocolVersion is advertised as both the minimum and maximum supported
// protocol version during the handshake. The server may reject or downgrade.
const ProtocolVersion = 3

// Close codes in the 4000-4999 application range.
const (
	// CloseCodeConnectFailed signals that the client is closing the socket
	// because the handshake was rejected.
	CloseCodeConnectFailed = 4008
)

// Role is the capability class a connection declares during the handshake.
type Role string

const (
	RoleOperator Role = "operator"
	RoleNode     Role = "node"
	RoleDual     Role = "dual"
)

var (
	operatorScopes = []string{"operator.read", "operator.write", "operator.admin"}
	nodeScopes     = []string{"node.invoke", "node.events"}
)

// Scopes returns the permission scopes requested for the role: operator
// scopes when the role includes operator, node scopes when it includes node.
func (r Role) Scopes() []string {
	switch r {
	case RoleOperator:
		return append([]string(nil), operatorScopes...)
	case RoleNode:
		return append([]string(nil), nodeScopes...)
	default:
		scopes := append([]string(nil), operatorScopes...)
		return append(scopes, nodeScopes...)
	}
}

// Mode derives the client mode string advertised in the handshake.
func (r Role) Mode() string {
	if r == RoleNode {
		return "daemon"
	}
	return "app"
}

// ClientIdentity describes this client in the handshake payload.
type ClientIdentity struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// ConnectParams is the payload of the "connect" handshake request.
type ConnectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Client      ClientIdentity `json:"client"`
	Role        Role           `json:"role"`
	Scopes      []string       `json:"scopes"`
	Caps        []string       `json:"caps"`
	Token       string         `json:"token,omitempty"`
	Password    string         `json:"password,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
	Locale      string         `json:"locale,omitempty"`
	Nonce       string         `json:"nonce,omitempty"`
}

// HelloFeatures lists the methods and events the server advertises.
type HelloFeatures struct {
	Methods []string `json:"methods,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// HelloAuth is the auth assignment issued by the server on a successful
// handshake.
type HelloAuth struct {
	DeviceToken string   `json:"deviceToken,omitempty"`
	Role        Role     `json:"role,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
}

// HelloPolicy carries server policy knobs the client should honour.
type HelloPolicy struct {
	TickIntervalMs int `json:"tickIntervalMs,omitempty"`
}

// HelloOk is the server's handshake acknowledgment. It configures the session
// and is surfaced once per connection through the OnHello callback; the client
// does not persist it.
type HelloOk struct {
	Protocol int             `json:"protocol"`
	Features HelloFeatures   `json:"features"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Auth     HelloAuth       `json:"auth"`
	Policy   HelloPolicy     `json:"policy"`
}
