/*
Package parley runs reliable two-party sessions over an unreliable message bus.

A session is an ordered, deduplicated and acknowledged conversation between two workflow
instances. The bus underneath may redeliver and reorder envelopes at will; parley turns that
into exactly-once, in-order delivery to the application and a clean close handshake.

# Concept

Each workflow instance is a Party. Its whole protocol state lives in one checkpoint which
is loaded, changed and saved in a single processing pass under the workflow's lock. Nothing
leaves the process before the pass is saved, so a crash at any point is recovered by
resending whatever is still unacknowledged.

  - Initiate, Send and Close queue outbound events.
  - Flush publishes every unacknowledged event plus pending acknowledgements.
  - Poll (or Deliver, when the transport pushes) applies inbound envelopes.
  - Receive hands in-order events to the application and acknowledges them.
  - Cleanup removes finished sessions, leaving tombstones for late redeliveries.

# Usage

	bus := memory.NewBus()
	alice, _ := parley.New("alice", parley.WithTransport(bus))
	bob, _ := parley.New("bob", parley.WithTransport(bus))

	ctx := context.Background()
	alice.Initiate(ctx, "greeting", "bob")
	alice.Send(ctx, map[string][]byte{"greeting": []byte("hello")})
	alice.Flush(ctx)

	bob.Poll(ctx, 0)
	events, _ := bob.Receive(ctx) // Init, then Data("hello") on "greeting-INITIATED"

Stores (memory, file, Redis), transports (memory, Redis Streams) and an optional
distributed lock are plugged in with options; see pkg/adapters.
*/
package parley
