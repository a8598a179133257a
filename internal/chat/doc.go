// Package chat defines the platform-neutral event and message types that flow
// through finbot-gateway.
//
// # Inbound
//
// An InboundEvent is produced by the ingress layer from a raw platform update.
// Its Payload is a closed set of kinds:
//
//   - Text: free-form user input
//   - Command: a slash command with optional arguments
//   - Callback: data attached to an inline keyboard button
//
// Consumers switch on the concrete Payload type. The set is sealed by an
// unexported method so new kinds must be added in this package.
//
// # Outbound
//
// An OutboundMessage is one platform API call: send a new message, edit an
// existing one, or answer a callback query. Keyboards are described with the
// platform-neutral Keyboard type and converted by the transport.
package chat
