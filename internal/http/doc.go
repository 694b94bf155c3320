// Package http exposes the booking services as a JSON API and a websocket
// dashboard stream.
//
// The router exposes the following endpoints:
//   - POST /users: registers an account. Body: {"name","email","password"}.
//   - POST /sessions: issues a bearer token. Body: {"email","password"}. Response:
//     {"token","expires_at","user"} with the token also surfaced via the
//     `X-Session-Token` header and a `session_token` cookie.
//   - DELETE /sessions/current: revokes the presented token until it expires.
//   - GET /rooms, POST /rooms, PUT /rooms/{id}, DELETE /rooms/{id}: room catalog.
//     Listing is available to any authenticated principal; mutations require
//     the admin role. Deleting a room with upcoming bookings answers 409.
//   - GET /bookings[?scope=mine|pending|all], POST /bookings: booking requests.
//     New bookings are always pending; pending and all scopes are admin only.
//   - DELETE /bookings/{id}: cancels one of the caller's bookings.
//   - POST /bookings/{id}/decision: admin approves or rejects a pending booking.
//     Body: {"decision":"approve"|"reject"}.
//   - GET /bookings/{id}/history: admin view of the booking's transitions.
//   - GET /dashboard: websocket stream of dashboard snapshots for the caller.
//
// Every route except registration and login requires a session. Errors carry
// a fixed message per class and, for validation failures, one message per
// field; storage fault text never reaches a response body.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
