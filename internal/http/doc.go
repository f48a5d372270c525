// Package http exposes the reservation service over HTTP.
//
// The router exposes the following endpoints:
//   - POST /reservations: books a room. Body: {"roomId","startDatetime","endDatetime"}.
//     An optional Idempotency-Key header makes retries safe. 201 with the
//     reservation, or 200 when an earlier request with the same key is replayed.
//   - GET /reservations/me?page&limit: reservations of the caller.
//   - GET /reservations/{id}, PUT /reservations/{id}, DELETE /reservations/{id}:
//     occupant only. PUT takes {"startDatetime","endDatetime"}.
//   - GET /reservations?roomId&startDate&endDate&page&limit: occupancy search.
//   - GET /ws/rooms/{roomID}: live reservation events for one room.
//   - GET /healthz and GET /metrics.
//
// Every reservation route requires a bearer JWT. Errors are returned as
// {"error_code","message","errors","details","conflicts"}.
package http
