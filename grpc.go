package secretstream

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc/credentials"
)

const protocolName = "secretstream"

// NewGRPCServerCredentials returns credentials that run the server handshake
// on every incoming gRPC connection. The server's KeyStore, if any, decides
// which clients get in.
func NewGRPCServerCredentials(server *Server) credentials.TransportCredentials {
	return &GRPCCredentials{Server: server}
}

// NewGRPCClientCredentials returns a credentials.TransportCredentials
// suitable for passing to grpc.Dial as an option.
func NewGRPCClientCredentials(client *Client, serverKey Pubkey) credentials.TransportCredentials {
	return &GRPCCredentials{Client: client, ServerKey: serverKey}
}

// GRPCCredentials implements credentials.TransportCredentials. Set Server to
// accept connections, or Client and ServerKey to dial them.
type GRPCCredentials struct {
	Server    *Server
	Client    *Client
	ServerKey Pubkey
}

// AuthInfo is the credentials.AuthInfo attached to gRPC peers.
type AuthInfo struct {
	credentials.CommonAuthInfo
	PeerKey Pubkey
}

// AuthType returns our protocol's name as a string.
func (a AuthInfo) AuthType() string {
	return protocolName
}

func newAuthInfo(peer Pubkey) AuthInfo {
	return AuthInfo{
		CommonAuthInfo: credentials.CommonAuthInfo{SecurityLevel: credentials.PrivacyAndIntegrity},
		PeerKey:        peer,
	}
}

// ServerHandshake does the authentication handshake for servers. gRPC
// bounds it with a deadline on rawConn.
func (g *GRPCCredentials) ServerHandshake(rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	if g.Server == nil {
		rawConn.Close()
		return nil, nil, errors.New("secretstream: credentials have no server identity")
	}
	conn, err := WrapServer(context.Background(), rawConn, g.Server)
	if err != nil {
		return nil, nil, err
	}
	return conn, newAuthInfo(conn.PeerKey()), nil
}

// ClientHandshake does the authentication handshake for clients. The
// authority is ignored; the server is identified by ServerKey alone.
func (g *GRPCCredentials) ClientHandshake(ctx context.Context, authority string, rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	if g.Client == nil {
		rawConn.Close()
		return nil, nil, errors.New("secretstream: credentials have no client identity")
	}
	conn, err := WrapClient(ctx, rawConn, g.Client, g.ServerKey)
	if err != nil {
		return nil, nil, err
	}
	return conn, newAuthInfo(conn.PeerKey()), nil
}

// Info provides the ProtocolInfo of this credentials.TransportCredentials
// implementation.
func (g *GRPCCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{SecurityProtocol: protocolName}
}

// Clone makes a copy of this TransportCredentials.
func (g *GRPCCredentials) Clone() credentials.TransportCredentials {
	c := *g
	return &c
}

// OverrideServerName is a no-op: peers are identified by key, not by name.
func (g *GRPCCredentials) OverrideServerName(string) error {
	return nil
}
