// Package ws bridges WebSocket viewers to terminal sessions.
//
// GET /ws/sessions/:id attaches to a running or recently finished session.
// The subscription is taken before the upgrade, so an unknown id is a plain
// 404 and a viewer never misses output written before it attached.
//
// Server -> client:
//   - text  {"type":"attached","session_id","status","cols","rows","truncated"}
//   - binary transcript snapshot (always sent, possibly empty)
//   - binary live output, verbatim and in order
//   - text  {"type":"resize","cols","rows"} whenever the terminal is resized
//   - text  {"type":"status","status","exit_code"} when the session ends,
//     followed by a normal close
//   - text  {"type":"pong"} and {"type":"error","message"}
//
// Client -> server:
//   - binary frames are written to the terminal as input
//   - text  {"type":"input","data":"<base64>"}
//   - text  {"type":"resize","cols":N,"rows":N}
//   - text  {"type":"ping"}
//
// Control frames from one connection are applied in the order received.
// A viewer that cannot keep up is dropped and closed with 1013.
package ws
