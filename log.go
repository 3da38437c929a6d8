package client

// Logging convention in the `client` package:
// Info:
//     essential events for abnormal behavior. This level should be silent on
//     normal operation, with the exception of one time (infrequent)
//     initialization data that is useful for monitoring
//     this includes:
//     - realtime channel auth and reconnect failures
//     - optimistic mutations that rolled back
// Warning:
//     unexpected panics even if handled and suppressed for partial operation
// V(2):
//     key events for trace debugging
//     this includes:
//     - frequent events - e.g. fetch, toggle, ack, push apply -
//       with ids that can be used to filter
//
// message tags: [api] gateway, [pc] posts coordinator,
// [mc] messages coordinator, [rt] realtime channel
