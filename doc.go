/*
Package secretstream implements the Scuttlebutt secret handshake and the
box stream that follows it. Together they upgrade any reliable byte stream
(a TCP `net.Conn`, a pipe) into a mutually authenticated, encrypted channel
between two ed25519 identities.

Usage instructions
------------------

  - Generate identities with GenKeyPair, or load them from a secret file with
    LoadSecretFile.
  - Agree on a NetworkID. Peers with different network IDs cannot talk to
    each other; MainNetworkID is the public Scuttlebutt network.
  - Distribute the server's public key to clients. The server learns client
    keys during the handshake and may filter them with a KeyStore.
  - On the client, call Client.Connect on a connected transport, passing the
    server's public key. On the server, call Server.Accept.
  - Both return a Sender and a Receiver. Send whole messages with Sender.Send
    and read them with Receiver.Next or by ranging over Receiver.Messages.
    Sender.Close says goodbye; the peer's Receiver then ends cleanly.

WrapClient, WrapServer and Listener offer the same thing as a net.Conn.
NewGRPCServerCredentials and NewGRPCClientCredentials plug the handshake into
gRPC.

Errors
------

A failed handshake always reports ErrHandshakeFailed, whatever went wrong;
the details are logged at debug level through the configured slog.Logger.
A packet that fails authentication reports ErrCorrupted and ends the stream.
Failures of the underlying transport are wrapped and can be unwrapped with
errors.Is and errors.As. A clean goodbye is io.EOF.

Technical / compatibility information
-------------------------------------

The handshake and framing are byte compatible with the secret-handshake and
box-stream protocols described at https://ssbc.github.io/scuttlebutt-protocol-guide/.
Box stream packets carry at most MaxChunkSize bytes of plaintext. Longer
messages are split; a packet shorter than MaxChunkSize ends a message, and a
message whose length is a multiple of MaxChunkSize is followed by an empty
packet.
*/
package secretstream
